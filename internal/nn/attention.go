package nn

import (
	"github.com/samcharles93/seqgen/internal/autograd"
)

// BahdanauAttention scores memory positions with an additive model:
//
//	score[t] = v · tanh(memory[t]*Wm + query*Wq)
//
// Positions at or beyond the memory length of a row get zero weight.
type BahdanauAttention struct {
	MemoryLayer *autograd.Var // [memory x units]
	QueryLayer  *autograd.Var // [query x units]
	V           *autograd.Var // [units x 1]
}

// NewBahdanauAttention registers the attention variables under name.
func NewBahdanauAttention(params *Params, name string, memorySize, querySize, units int) *BahdanauAttention {
	return &BahdanauAttention{
		MemoryLayer: params.Add(scope(name, "memory_layer"), memorySize, units, GlorotUniform(), true),
		QueryLayer:  params.Add(scope(name, "query_layer"), querySize, units, GlorotUniform(), true),
		V:           params.Add(scope(name, "v"), units, 1, GlorotUniform(), true),
	}
}

// Memory is the encoder output prepared for attention: the values, their
// projected keys and the valid length of every row.
type Memory struct {
	Values  []*autograd.Var
	Keys    []*autograd.Var
	Lengths []int
}

// Batch returns the number of rows.
func (m *Memory) Batch() int { return len(m.Lengths) }

// Prepare projects every memory step into key space.
func (a *BahdanauAttention) Prepare(tape *autograd.Tape, values []*autograd.Var, lengths []int) *Memory {
	keys := make([]*autograd.Var, len(values))
	for t, v := range values {
		keys[t] = tape.MatMul(v, a.MemoryLayer)
	}
	return &Memory{Values: values, Keys: keys, Lengths: lengths}
}

// Tile repeats every row of the memory width times, row b becoming rows
// b*width .. b*width+width-1.  Beam search decodes on the tiled memory.
func (m *Memory) Tile(tape *autograd.Tape, width int) *Memory {
	if width <= 1 {
		return m
	}
	rows := make([]int, 0, len(m.Lengths)*width)
	lengths := make([]int, 0, len(m.Lengths)*width)
	for b, n := range m.Lengths {
		for k := 0; k < width; k++ {
			rows = append(rows, b)
			lengths = append(lengths, n)
		}
	}
	out := &Memory{
		Values:  make([]*autograd.Var, len(m.Values)),
		Keys:    make([]*autograd.Var, len(m.Keys)),
		Lengths: lengths,
	}
	for t := range m.Values {
		out.Values[t] = tape.Gather(m.Values[t], rows)
		out.Keys[t] = tape.Gather(m.Keys[t], rows)
	}
	return out
}

// Attend returns the alignments [batch x steps] and the context vector
// [batch x memory] for query.
func (a *BahdanauAttention) Attend(tape *autograd.Tape, mem *Memory, query *autograd.Var) (*autograd.Var, *autograd.Var) {
	processed := tape.MatMul(query, a.QueryLayer)
	scores := make([]*autograd.Var, len(mem.Keys))
	for t, k := range mem.Keys {
		scores[t] = tape.MatMul(tape.Tanh(tape.Add(k, processed)), a.V)
	}
	alignments := tape.MaskedSoftmax(tape.ConcatCols(scores...), mem.Lengths)
	context := tape.WeightedSum(alignments, mem.Values)
	return alignments, context
}
