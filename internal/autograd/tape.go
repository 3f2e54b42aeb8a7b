// Package autograd implements reverse-mode differentiation over dense
// float32 matrices.
//
// Operations are recorded on a Tape in execution order.  Backward replays the
// recorded closures in reverse, so every consumer of a value has pushed its
// gradient before the producer reads it.  A Tape created with NoGrad records
// nothing and is used for decoding.
package autograd

import (
	"errors"
	"fmt"

	"github.com/samcharles93/seqgen/internal/tensor"
)

// ErrNotScalar is returned by Backward when the loss is not a 1x1 value.
var ErrNotScalar = errors.New("autograd: backward requires a scalar loss")

// Var is a node of the computation: a value and, when it participates in
// differentiation, the gradient of the loss with respect to it.
type Var struct {
	Value tensor.Mat
	Grad  tensor.Mat

	requiresGrad bool
}

// NewParam wraps m as a differentiable leaf with a zeroed gradient buffer.
func NewParam(m tensor.Mat) *Var {
	return &Var{
		Value:        m,
		Grad:         tensor.NewMat(m.R, m.C),
		requiresGrad: true,
	}
}

// RequiresGrad reports whether gradients flow into v.
func (v *Var) RequiresGrad() bool { return v.requiresGrad }

// SetRequiresGrad toggles gradient tracking.  Frozen parameters (such as a
// pretrained embedding) keep their value but are treated as constants.
func (v *Var) SetRequiresGrad(on bool) {
	v.requiresGrad = on
	if on && v.Grad.Data == nil {
		v.Grad = tensor.NewMat(v.Value.R, v.Value.C)
	}
}

// ZeroGrad clears the accumulated gradient.
func (v *Var) ZeroGrad() {
	if v.Grad.Data != nil {
		v.Grad.Zero()
	}
}

// Scalar returns the single element of a 1x1 value.
func (v *Var) Scalar() float32 {
	if v.Value.R != 1 || v.Value.C != 1 {
		panic(fmt.Sprintf("scalar: value has shape [%d x %d]", v.Value.R, v.Value.C))
	}
	return v.Value.Data[0]
}

// grad returns the gradient buffer, allocating it on first use.
func (v *Var) grad() *tensor.Mat {
	if v.Grad.Data == nil {
		v.Grad = tensor.NewMat(v.Value.R, v.Value.C)
	}
	return &v.Grad
}

// Tape records operations for a single forward/backward pass.
type Tape struct {
	record   bool
	backward []func()
}

// NewTape returns a tape that records operations for Backward.
func NewTape() *Tape {
	return &Tape{record: true}
}

// NoGrad returns a tape that evaluates operations without recording them.
func NoGrad() *Tape {
	return &Tape{}
}

// Len returns the number of recorded operations.
func (t *Tape) Len() int { return len(t.backward) }

// Const wraps m as a value that never receives gradients.
func (t *Tape) Const(m tensor.Mat) *Var {
	return &Var{Value: m}
}

// Zeros returns a constant r x c zero matrix.
func (t *Tape) Zeros(r, c int) *Var {
	return &Var{Value: tensor.NewMat(r, c)}
}

// Backward seeds dLoss/dLoss = 1 and propagates gradients to every recorded
// input.  The tape is consumed: a second call is a no-op.
func (t *Tape) Backward(loss *Var) error {
	if loss.Value.R != 1 || loss.Value.C != 1 {
		return fmt.Errorf("%w: got [%d x %d]", ErrNotScalar, loss.Value.R, loss.Value.C)
	}
	if !loss.requiresGrad {
		return nil
	}
	loss.grad().Data[0] = 1
	for i := len(t.backward) - 1; i >= 0; i-- {
		t.backward[i]()
	}
	t.backward = nil
	return nil
}

// result builds the output node of an operation over inputs.  The returned
// bool tells the caller whether a backward closure should be recorded.
func (t *Tape) result(value tensor.Mat, inputs ...*Var) (*Var, bool) {
	out := &Var{Value: value}
	if !t.record {
		return out, false
	}
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			out.requiresGrad = true
			return out, true
		}
	}
	return out, false
}

func (t *Tape) push(fn func()) {
	t.backward = append(t.backward, fn)
}
