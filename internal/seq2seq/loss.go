package seq2seq

import (
	"github.com/samcharles93/seqgen/internal/autograd"
)

// SequenceMask returns a [batch][maxLen] mask with 1 at t < lengths[b].
func SequenceMask(lengths []int, maxLen int) [][]float32 {
	mask := make([][]float32, len(lengths))
	for b, l := range lengths {
		row := make([]float32, maxLen)
		for t := 0; t < min(l, maxLen); t++ {
			row[t] = 1
		}
		mask[b] = row
	}
	return mask
}

// SequenceLoss is the cross entropy of logits against targets averaged over
// every unmasked (batch, step) position.  logits holds one [batch x vocab]
// value per step; targets and mask are batch-major.  An all-zero mask yields
// a constant zero loss.
func SequenceLoss(tape *autograd.Tape, logits []*autograd.Var, targets [][]int, mask [][]float32) *autograd.Var {
	var total float32
	for _, row := range mask {
		for _, w := range row {
			total += w
		}
	}
	if total == 0 {
		return tape.Zeros(1, 1)
	}

	terms := make([]*autograd.Var, len(logits))
	weights := make([]float32, len(targets))
	for t, l := range logits {
		for b := range weights {
			weights[b] = mask[b][t]
		}
		terms[t] = tape.SoftmaxCrossEntropy(l, column(targets, t), weights)
	}
	return tape.Scale(tape.Sum(terms...), 1/total)
}
