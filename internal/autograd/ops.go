package autograd

import (
	"fmt"
	"math"

	"github.com/samcharles93/seqgen/internal/tensor"
)

func mustSameShape(op string, a, b *Var) {
	if !a.Value.SameShape(&b.Value) {
		panic(fmt.Sprintf("%s: shape mismatch [%d x %d] vs [%d x %d]", op, a.Value.R, a.Value.C, b.Value.R, b.Value.C))
	}
}

// MatMul returns a*b.
func (t *Tape) MatMul(a, b *Var) *Var {
	value := tensor.NewMat(a.Value.R, b.Value.C)
	tensor.Gemm(&value, &a.Value, &b.Value, false, false, 1, 0)
	out, rec := t.result(value, a, b)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			if a.requiresGrad {
				tensor.Gemm(a.grad(), &out.Grad, &b.Value, false, true, 1, 1)
			}
			if b.requiresGrad {
				tensor.Gemm(b.grad(), &a.Value, &out.Grad, true, false, 1, 1)
			}
		})
	}
	return out
}

// Add returns a+b for equally shaped operands.
func (t *Tape) Add(a, b *Var) *Var {
	mustSameShape("add", a, b)
	value := a.Value.Clone()
	value.AddScaled(&b.Value, 1)
	out, rec := t.result(value, a, b)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			if a.requiresGrad {
				a.grad().AddScaled(&out.Grad, 1)
			}
			if b.requiresGrad {
				b.grad().AddScaled(&out.Grad, 1)
			}
		})
	}
	return out
}

// Sub returns a-b for equally shaped operands.
func (t *Tape) Sub(a, b *Var) *Var {
	mustSameShape("sub", a, b)
	value := a.Value.Clone()
	value.AddScaled(&b.Value, -1)
	out, rec := t.result(value, a, b)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			if a.requiresGrad {
				a.grad().AddScaled(&out.Grad, 1)
			}
			if b.requiresGrad {
				b.grad().AddScaled(&out.Grad, -1)
			}
		})
	}
	return out
}

// AddRow adds the 1 x C row vector to every row of a.
func (t *Tape) AddRow(a, row *Var) *Var {
	if row.Value.R != 1 || row.Value.C != a.Value.C {
		panic(fmt.Sprintf("add row: bias [%d x %d] does not match [%d x %d]", row.Value.R, row.Value.C, a.Value.R, a.Value.C))
	}
	value := a.Value.Clone()
	bias := row.Value.Row(0)
	for i := 0; i < value.R; i++ {
		tensor.Add(value.Row(i), bias)
	}
	out, rec := t.result(value, a, row)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			if a.requiresGrad {
				a.grad().AddScaled(&out.Grad, 1)
			}
			if row.requiresGrad {
				g := row.grad().Row(0)
				for i := 0; i < out.Grad.R; i++ {
					tensor.Add(g, out.Grad.Row(i))
				}
			}
		})
	}
	return out
}

// Mul returns the element-wise product a*b.
func (t *Tape) Mul(a, b *Var) *Var {
	mustSameShape("mul", a, b)
	value := tensor.NewMat(a.Value.R, a.Value.C)
	for i := 0; i < value.R; i++ {
		dst, x, y := value.Row(i), a.Value.Row(i), b.Value.Row(i)
		for j := range dst {
			dst[j] = x[j] * y[j]
		}
	}
	out, rec := t.result(value, a, b)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			for i := 0; i < out.Grad.R; i++ {
				g := out.Grad.Row(i)
				if a.requiresGrad {
					ga, y := a.grad().Row(i), b.Value.Row(i)
					for j := range g {
						ga[j] += g[j] * y[j]
					}
				}
				if b.requiresGrad {
					gb, x := b.grad().Row(i), a.Value.Row(i)
					for j := range g {
						gb[j] += g[j] * x[j]
					}
				}
			}
		})
	}
	return out
}

// Scale returns s*a.
func (t *Tape) Scale(a *Var, s float32) *Var {
	value := a.Value.Clone()
	tensor.Scale(value.Data, s)
	out, rec := t.result(value, a)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			a.grad().AddScaled(&out.Grad, s)
		})
	}
	return out
}

// OneMinus returns 1-a.
func (t *Tape) OneMinus(a *Var) *Var {
	value := tensor.NewMat(a.Value.R, a.Value.C)
	for i := 0; i < value.R; i++ {
		dst, x := value.Row(i), a.Value.Row(i)
		for j := range dst {
			dst[j] = 1 - x[j]
		}
	}
	out, rec := t.result(value, a)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			a.grad().AddScaled(&out.Grad, -1)
		})
	}
	return out
}

// Sigmoid applies the logistic function element-wise.
func (t *Tape) Sigmoid(a *Var) *Var {
	value := tensor.NewMat(a.Value.R, a.Value.C)
	for i := 0; i < value.R; i++ {
		dst, x := value.Row(i), a.Value.Row(i)
		for j := range dst {
			dst[j] = tensor.Sigmoid(x[j])
		}
	}
	out, rec := t.result(value, a)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			for i := 0; i < out.Grad.R; i++ {
				g, y, ga := out.Grad.Row(i), out.Value.Row(i), a.grad().Row(i)
				for j := range g {
					ga[j] += g[j] * y[j] * (1 - y[j])
				}
			}
		})
	}
	return out
}

// Tanh applies the hyperbolic tangent element-wise.
func (t *Tape) Tanh(a *Var) *Var {
	value := tensor.NewMat(a.Value.R, a.Value.C)
	for i := 0; i < value.R; i++ {
		dst, x := value.Row(i), a.Value.Row(i)
		for j := range dst {
			dst[j] = tensor.Tanh(x[j])
		}
	}
	out, rec := t.result(value, a)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			for i := 0; i < out.Grad.R; i++ {
				g, y, ga := out.Grad.Row(i), out.Value.Row(i), a.grad().Row(i)
				for j := range g {
					ga[j] += g[j] * (1 - y[j]*y[j])
				}
			}
		})
	}
	return out
}

// ConcatCols joins operands with the same row count side by side.
func (t *Tape) ConcatCols(xs ...*Var) *Var {
	if len(xs) == 0 {
		panic("concat: no operands")
	}
	rows := xs[0].Value.R
	cols := 0
	for _, x := range xs {
		if x.Value.R != rows {
			panic(fmt.Sprintf("concat: row mismatch %d vs %d", x.Value.R, rows))
		}
		cols += x.Value.C
	}
	value := tensor.NewMat(rows, cols)
	for i := 0; i < rows; i++ {
		dst := value.Row(i)
		off := 0
		for _, x := range xs {
			off += copy(dst[off:], x.Value.Row(i))
		}
	}
	out, rec := t.result(value, xs...)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			off := 0
			for _, x := range xs {
				w := x.Value.C
				if x.requiresGrad {
					gx := x.grad()
					for i := 0; i < rows; i++ {
						tensor.Add(gx.Row(i), out.Grad.Row(i)[off:off+w])
					}
				}
				off += w
			}
		})
	}
	return out
}

// SliceCols returns columns [from, to) of a.
func (t *Tape) SliceCols(a *Var, from, to int) *Var {
	if from < 0 || to > a.Value.C || from > to {
		panic(fmt.Sprintf("slice cols: [%d, %d) out of range for %d columns", from, to, a.Value.C))
	}
	value := tensor.NewMat(a.Value.R, to-from)
	for i := 0; i < value.R; i++ {
		copy(value.Row(i), a.Value.Row(i)[from:to])
	}
	out, rec := t.result(value, a)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			ga := a.grad()
			for i := 0; i < out.Grad.R; i++ {
				tensor.Add(ga.Row(i)[from:to], out.Grad.Row(i))
			}
		})
	}
	return out
}

// Gather selects rows of table by id, the embedding lookup.
func (t *Tape) Gather(table *Var, ids []int) *Var {
	value := tensor.NewMat(len(ids), table.Value.C)
	for i, id := range ids {
		if id < 0 || id >= table.Value.R {
			panic(fmt.Sprintf("gather: id %d out of range [0, %d)", id, table.Value.R))
		}
		copy(value.Row(i), table.Value.Row(id))
	}
	out, rec := t.result(value, table)
	if rec {
		ids = append([]int(nil), ids...)
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			g := table.grad()
			for i, id := range ids {
				tensor.Add(g.Row(id), out.Grad.Row(i))
			}
		})
	}
	return out
}

// MaskRows blends per row: mask[i]*a[i] + (1-mask[i])*b[i].  A nil b is
// treated as zeros.  Masks are 0/1 constants and carry no gradient.
func (t *Tape) MaskRows(a, b *Var, mask []float32) *Var {
	if len(mask) != a.Value.R {
		panic(fmt.Sprintf("mask rows: %d mask entries for %d rows", len(mask), a.Value.R))
	}
	if b != nil {
		mustSameShape("mask rows", a, b)
	}
	value := tensor.NewMat(a.Value.R, a.Value.C)
	for i, m := range mask {
		dst := value.Row(i)
		switch {
		case m == 1:
			copy(dst, a.Value.Row(i))
		case b != nil && m == 0:
			copy(dst, b.Value.Row(i))
		default:
			x := a.Value.Row(i)
			for j := range dst {
				dst[j] = m * x[j]
			}
			if b != nil {
				y := b.Value.Row(i)
				for j := range dst {
					dst[j] += (1 - m) * y[j]
				}
			}
		}
	}
	out, rec := t.result(value, a, b)
	if rec {
		mask = append([]float32(nil), mask...)
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			for i, m := range mask {
				g := out.Grad.Row(i)
				if a.requiresGrad && m != 0 {
					ga := a.grad().Row(i)
					for j := range g {
						ga[j] += m * g[j]
					}
				}
				if b != nil && b.requiresGrad && m != 1 {
					gb := b.grad().Row(i)
					for j := range g {
						gb[j] += (1 - m) * g[j]
					}
				}
			}
		})
	}
	return out
}

// MaskedSoftmax normalises each row of scores over its first lengths[i]
// columns.  Columns at or beyond the length get probability zero.  A nil
// lengths slice uses every column.
func (t *Tape) MaskedSoftmax(scores *Var, lengths []int) *Var {
	if lengths != nil && len(lengths) != scores.Value.R {
		panic(fmt.Sprintf("masked softmax: %d lengths for %d rows", len(lengths), scores.Value.R))
	}
	value := scores.Value.Clone()
	negInf := float32(math.Inf(-1))
	for i := 0; i < value.R; i++ {
		row := value.Row(i)
		if lengths != nil {
			for j := max(lengths[i], 0); j < len(row); j++ {
				row[j] = negInf
			}
		}
		tensor.Softmax(row)
	}
	out, rec := t.result(value, scores)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			gs := scores.grad()
			for i := 0; i < out.Grad.R; i++ {
				y, g := out.Value.Row(i), out.Grad.Row(i)
				dot := tensor.Dot(y, g)
				dst := gs.Row(i)
				for j := range dst {
					dst[j] += y[j] * (g[j] - dot)
				}
			}
		})
	}
	return out
}

// WeightedSum computes out[i] = sum_k weights[i,k] * values[k][i], the
// attention context over a sequence of per-step values.
func (t *Tape) WeightedSum(weights *Var, values []*Var) *Var {
	if weights.Value.C != len(values) {
		panic(fmt.Sprintf("weighted sum: %d weight columns for %d values", weights.Value.C, len(values)))
	}
	if len(values) == 0 {
		return t.Zeros(weights.Value.R, 0)
	}
	cols := values[0].Value.C
	value := tensor.NewMat(weights.Value.R, cols)
	for i := 0; i < value.R; i++ {
		dst := value.Row(i)
		w := weights.Value.Row(i)
		for k, v := range values {
			if w[k] == 0 {
				continue
			}
			src := v.Value.Row(i)
			for j := range dst {
				dst[j] += w[k] * src[j]
			}
		}
	}
	inputs := append([]*Var{weights}, values...)
	out, rec := t.result(value, inputs...)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			for i := 0; i < out.Grad.R; i++ {
				g := out.Grad.Row(i)
				w := weights.Value.Row(i)
				for k, v := range values {
					if weights.requiresGrad {
						weights.grad().Row(i)[k] += tensor.Dot(g, v.Value.Row(i))
					}
					if v.requiresGrad && w[k] != 0 {
						gv := v.grad().Row(i)
						for j := range gv {
							gv[j] += w[k] * g[j]
						}
					}
				}
			}
		})
	}
	return out
}

// Sum adds scalars (1x1 values).
func (t *Tape) Sum(xs ...*Var) *Var {
	value := tensor.NewMat(1, 1)
	for _, x := range xs {
		value.Data[0] += x.Scalar()
	}
	out, rec := t.result(value, xs...)
	if rec {
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			g := out.Grad.Data[0]
			for _, x := range xs {
				if x.requiresGrad {
					x.grad().Data[0] += g
				}
			}
		})
	}
	return out
}
