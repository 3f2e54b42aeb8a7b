package nn

import (
	"github.com/samcharles93/seqgen/internal/autograd"
)

// GRUCell is a gated recurrent unit.  The reset gate is applied to the
// previous state before the candidate projection.
type GRUCell struct {
	GateKernel      *autograd.Var // [in+units x 2*units], columns [reset | update]
	GateBias        *autograd.Var // [1 x 2*units]
	CandidateKernel *autograd.Var // [in+units x units]
	CandidateBias   *autograd.Var // [1 x units]

	in, units int
}

// NewGRUCell registers the gate and candidate variables under "<name>/gru".
// Gate biases start at 1 so the cell initially carries its state forward.
func NewGRUCell(params *Params, name string, inputSize, units int) *GRUCell {
	return &GRUCell{
		GateKernel:      params.Add(scope(name, "gru", "gates", "kernel"), inputSize+units, 2*units, GlorotUniform(), true),
		GateBias:        params.Add(scope(name, "gru", "gates", "bias"), 1, 2*units, Constant(1), true),
		CandidateKernel: params.Add(scope(name, "gru", "candidate", "kernel"), inputSize+units, units, GlorotUniform(), true),
		CandidateBias:   params.Add(scope(name, "gru", "candidate", "bias"), 1, units, Zeros(), true),
		in:              inputSize,
		units:           units,
	}
}

func (c *GRUCell) InputSize() int  { return c.in }
func (c *GRUCell) OutputSize() int { return c.units }

// ZeroState returns (h) filled with zeros.
func (c *GRUCell) ZeroState(tape *autograd.Tape, batch int) State {
	return State{tape.Zeros(batch, c.units)}
}

// Step computes h' = z*h + (1-z)*tanh([x, r*h]*Wc + bc).
func (c *GRUCell) Step(tape *autograd.Tape, x *autograd.Var, state State) (*autograd.Var, State) {
	h := state[0]
	gates := tape.Sigmoid(tape.AddRow(tape.MatMul(tape.ConcatCols(x, h), c.GateKernel), c.GateBias))
	r := tape.SliceCols(gates, 0, c.units)
	z := tape.SliceCols(gates, c.units, 2*c.units)

	candidate := tape.Tanh(tape.AddRow(tape.MatMul(tape.ConcatCols(x, tape.Mul(r, h)), c.CandidateKernel), c.CandidateBias))
	next := tape.Add(tape.Mul(z, h), tape.Mul(tape.OneMinus(z), candidate))
	return next, State{next}
}
