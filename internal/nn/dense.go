package nn

import (
	"fmt"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// Dense is a fully connected layer y = x*Kernel + Bias.
type Dense struct {
	Kernel *autograd.Var
	Bias   *autograd.Var
}

// NewDense registers "<name>/kernel" and "<name>/bias".
func NewDense(params *Params, name string, in, out int) *Dense {
	return &Dense{
		Kernel: params.Add(scope(name, "kernel"), in, out, GlorotUniform(), true),
		Bias:   params.Add(scope(name, "bias"), 1, out, Zeros(), true),
	}
}

// Apply projects x.
func (d *Dense) Apply(tape *autograd.Tape, x *autograd.Var) *autograd.Var {
	return tape.AddRow(tape.MatMul(x, d.Kernel), d.Bias)
}

// Embedding maps token ids to rows of a [vocab x dim] table.
type Embedding struct {
	Name  string
	Table *autograd.Var
}

// NewEmbedding registers the table under name.  A frozen table is a constant
// for the optimiser and is expected to be filled through Assign.
func NewEmbedding(params *Params, name string, vocab, dim int, trainable bool) *Embedding {
	return &Embedding{
		Name:  name,
		Table: params.Add(name, vocab, dim, Uniform(0.1), trainable),
	}
}

// Lookup returns one row per id.
func (e *Embedding) Lookup(tape *autograd.Tape, ids []int) *autograd.Var {
	return tape.Gather(e.Table, ids)
}

// Assign overwrites the table with a pretrained matrix of the same shape.
func (e *Embedding) Assign(m *tensor.Mat) error {
	if !e.Table.Value.SameShape(m) {
		return fmt.Errorf("embedding %s: expected [%d x %d], got [%d x %d]",
			e.Name, e.Table.Value.R, e.Table.Value.C, m.R, m.C)
	}
	e.Table.Value.CopyFrom(m)
	return nil
}

// VocabSize returns the number of rows.
func (e *Embedding) VocabSize() int { return e.Table.Value.R }
