package nn

import (
	"fmt"

	"github.com/samcharles93/seqgen/internal/autograd"
)

// MultiState holds one State per layer of a MultiCell, bottom layer first.
type MultiState []State

// MultiCell stacks cells: the output of layer i is the input of layer i+1.
type MultiCell struct {
	Cells []Cell
}

// NewMultiCell stacks depth cells of cellType.  The bottom layer reads
// inputSize features, every other layer reads units.
func NewMultiCell(cellType string, params *Params, name string, depth, inputSize, units int) (*MultiCell, error) {
	if depth < 1 {
		return nil, fmt.Errorf("cell stack %s: depth must be >= 1, got %d", name, depth)
	}
	cells := make([]Cell, depth)
	for i := range cells {
		in := units
		if i == 0 {
			in = inputSize
		}
		cell, err := NewCell(cellType, params, scope(name, fmt.Sprintf("cell_%d", i)), in, units)
		if err != nil {
			return nil, err
		}
		cells[i] = cell
	}
	return &MultiCell{Cells: cells}, nil
}

// Depth returns the number of layers.
func (m *MultiCell) Depth() int { return len(m.Cells) }

// InputSize is the input width of the bottom layer.
func (m *MultiCell) InputSize() int { return m.Cells[0].InputSize() }

// OutputSize is the output width of the top layer.
func (m *MultiCell) OutputSize() int { return m.Cells[len(m.Cells)-1].OutputSize() }

// ZeroState returns zero states for every layer.
func (m *MultiCell) ZeroState(tape *autograd.Tape, batch int) MultiState {
	out := make(MultiState, len(m.Cells))
	for i, c := range m.Cells {
		out[i] = c.ZeroState(tape, batch)
	}
	return out
}

// Step runs one time step through every layer.
func (m *MultiCell) Step(tape *autograd.Tape, x *autograd.Var, state MultiState) (*autograd.Var, MultiState) {
	next := make(MultiState, len(m.Cells))
	out := x
	for i, c := range m.Cells {
		out, next[i] = c.Step(tape, out, state[i])
	}
	return out, next
}

// Mask keeps next for rows whose mask is 1 and prev elsewhere, layer by layer.
func (s MultiState) Mask(tape *autograd.Tape, prev MultiState, mask []float32) MultiState {
	out := make(MultiState, len(s))
	for i := range s {
		out[i] = MaskState(tape, s[i], prev[i], mask)
	}
	return out
}

// Gather reorders the batch rows of every layer.
func (s MultiState) Gather(tape *autograd.Tape, rows []int) MultiState {
	out := make(MultiState, len(s))
	for i := range s {
		out[i] = GatherState(tape, s[i], rows)
	}
	return out
}

// StepMask returns the 0/1 row mask for time step t, and whether every row is
// still active.
func StepMask(lengths []int, t int) ([]float32, bool) {
	mask := make([]float32, len(lengths))
	all := true
	for b, n := range lengths {
		if t < n {
			mask[b] = 1
		} else {
			all = false
		}
	}
	return mask, all
}

// DynamicRNN runs cell over inputs (one [batch x features] value per step).
// For rows whose length is exhausted the state is carried through unchanged
// and the output is zero, so the final state of each row is the state after
// its last valid step.
func DynamicRNN(tape *autograd.Tape, cell *MultiCell, inputs []*autograd.Var, lengths []int, initial MultiState) ([]*autograd.Var, MultiState) {
	state := initial
	outputs := make([]*autograd.Var, len(inputs))
	for t, x := range inputs {
		out, next := cell.Step(tape, x, state)
		mask, all := StepMask(lengths, t)
		if !all {
			out = tape.MaskRows(out, nil, mask)
			next = next.Mask(tape, state, mask)
		}
		outputs[t] = out
		state = next
	}
	return outputs, state
}
