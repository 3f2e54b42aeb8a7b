package autograd

import (
	"fmt"

	"github.com/samcharles93/seqgen/internal/tensor"
)

// SoftmaxCrossEntropy returns sum_i weights[i] * -log softmax(logits[i])[targets[i]]
// as a 1x1 value.  Rows with weight zero contribute neither loss nor gradient,
// which is how padded time steps are excluded.
func (t *Tape) SoftmaxCrossEntropy(logits *Var, targets []int, weights []float32) *Var {
	n := logits.Value.R
	if len(targets) != n || len(weights) != n {
		panic(fmt.Sprintf("cross entropy: %d rows, %d targets, %d weights", n, len(targets), len(weights)))
	}
	probs := tensor.NewMat(n, logits.Value.C)
	value := tensor.NewMat(1, 1)
	var total float64
	for i := 0; i < n; i++ {
		if weights[i] == 0 {
			continue
		}
		y := targets[i]
		if y < 0 || y >= logits.Value.C {
			panic(fmt.Sprintf("cross entropy: target %d out of range [0, %d)", y, logits.Value.C))
		}
		row := logits.Value.Row(i)
		lse := tensor.LogSumExp(row)
		total += float64(weights[i]) * (lse - float64(row[y]))
		p := probs.Row(i)
		copy(p, row)
		tensor.Softmax(p)
	}
	value.Data[0] = float32(total)

	out, rec := t.result(value, logits)
	if rec {
		targets = append([]int(nil), targets...)
		weights = append([]float32(nil), weights...)
		t.push(func() {
			if out.Grad.Data == nil {
				return
			}
			g := out.Grad.Data[0]
			gl := logits.grad()
			for i := 0; i < n; i++ {
				w := weights[i]
				if w == 0 {
					continue
				}
				p := probs.Row(i)
				dst := gl.Row(i)
				for j := range dst {
					dst[j] += g * w * p[j]
				}
				dst[targets[i]] -= g * w
			}
		})
	}
	return out
}
