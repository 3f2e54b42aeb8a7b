package nn

import (
	"github.com/samcharles93/seqgen/internal/autograd"
)

// AttentionWrapper adds attention to a cell.  At every step the cell reads
// its input concatenated with the previous attention vector; the cell output
// queries the memory and the attention vector
//
//	attention = [output, context] * AttentionLayer
//
// becomes both the wrapper output and the last entry of its state.
type AttentionWrapper struct {
	Cell           Cell
	Mechanism      *BahdanauAttention
	AttentionLayer *autograd.Var // [cellOutput+memory x attentionSize]

	memory *Memory
}

// NewAttentionWrapper wraps cell.  The cell must have been built with an
// input width of inputSize+attentionSize.
func NewAttentionWrapper(params *Params, name string, cell Cell, mechanism *BahdanauAttention, memorySize, attentionSize int) *AttentionWrapper {
	return &AttentionWrapper{
		Cell:           cell,
		Mechanism:      mechanism,
		AttentionLayer: params.Add(scope(name, "attention_layer", "kernel"), cell.OutputSize()+memorySize, attentionSize, GlorotUniform(), true),
	}
}

// WithMemory returns a copy of the wrapper bound to mem.  The receiver is not
// modified, so a single model can decode several requests at once.
func (w *AttentionWrapper) WithMemory(mem *Memory) *AttentionWrapper {
	bound := *w
	bound.memory = mem
	return &bound
}

// InputSize is the width of the external input, excluding the fed-back
// attention vector.
func (w *AttentionWrapper) InputSize() int {
	return w.Cell.InputSize() - w.OutputSize()
}

// OutputSize is the attention vector width.
func (w *AttentionWrapper) OutputSize() int {
	return w.AttentionLayer.Value.C
}

// ZeroState returns the zero state of the cell followed by a zero attention.
func (w *AttentionWrapper) ZeroState(tape *autograd.Tape, batch int) State {
	return w.InitialState(tape, w.Cell.ZeroState(tape, batch), batch)
}

// InitialState starts the wrapped cell from cellState with a zero attention.
func (w *AttentionWrapper) InitialState(tape *autograd.Tape, cellState State, batch int) State {
	out := make(State, 0, len(cellState)+1)
	out = append(out, cellState...)
	return append(out, tape.Zeros(batch, w.OutputSize()))
}

// Step runs the cell and attends over the bound memory.
func (w *AttentionWrapper) Step(tape *autograd.Tape, x *autograd.Var, state State) (*autograd.Var, State) {
	if w.memory == nil {
		panic("attention wrapper: step without memory; call WithMemory first")
	}
	n := len(state) - 1
	cellState, prevAttention := state[:n], state[n]

	cellOut, nextCell := w.Cell.Step(tape, tape.ConcatCols(x, prevAttention), cellState)
	_, context := w.Mechanism.Attend(tape, w.memory, cellOut)
	attention := tape.MatMul(tape.ConcatCols(cellOut, context), w.AttentionLayer)

	next := make(State, 0, len(nextCell)+1)
	next = append(next, nextCell...)
	return attention, append(next, attention)
}

