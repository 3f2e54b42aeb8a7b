package nn

import (
	"github.com/samcharles93/seqgen/internal/autograd"
)

// forgetBias is added to the forget gate so new cells start by remembering.
const forgetBias = 1.0

// LSTMCell is a long short-term memory cell with a fused gate kernel.
// Gates are laid out as [input | candidate | forget | output] columns.
type LSTMCell struct {
	Kernel *autograd.Var // [in+units x 4*units]
	Bias   *autograd.Var // [1 x 4*units]

	in, units int
}

// NewLSTMCell registers "<name>/lstm/kernel" and "<name>/lstm/bias".  The
// forget gate slice of the bias starts at forgetBias.
func NewLSTMCell(params *Params, name string, inputSize, units int) *LSTMCell {
	kernel := params.Add(scope(name, "lstm", "kernel"), inputSize+units, 4*units, GlorotUniform(), true)
	bias := params.Add(scope(name, "lstm", "bias"), 1, 4*units, Zeros(), true)
	row := bias.Value.Row(0)
	for j := 2 * units; j < 3*units; j++ {
		row[j] = forgetBias
	}
	return &LSTMCell{Kernel: kernel, Bias: bias, in: inputSize, units: units}
}

func (c *LSTMCell) InputSize() int  { return c.in }
func (c *LSTMCell) OutputSize() int { return c.units }

// ZeroState returns (c, h) filled with zeros.
func (c *LSTMCell) ZeroState(tape *autograd.Tape, batch int) State {
	return State{tape.Zeros(batch, c.units), tape.Zeros(batch, c.units)}
}

// Step computes the next (c, h) and returns h as the output.
func (c *LSTMCell) Step(tape *autograd.Tape, x *autograd.Var, state State) (*autograd.Var, State) {
	prevC, prevH := state[0], state[1]
	z := tape.AddRow(tape.MatMul(tape.ConcatCols(x, prevH), c.Kernel), c.Bias)

	u := c.units
	i := tape.Sigmoid(tape.SliceCols(z, 0, u))
	g := tape.Tanh(tape.SliceCols(z, u, 2*u))
	f := tape.Sigmoid(tape.SliceCols(z, 2*u, 3*u))
	o := tape.Sigmoid(tape.SliceCols(z, 3*u, 4*u))

	nextC := tape.Add(tape.Mul(f, prevC), tape.Mul(i, g))
	nextH := tape.Mul(o, tape.Tanh(nextC))
	return nextH, State{nextC, nextH}
}
