package nn

import (
	"errors"
	"fmt"

	"github.com/samcharles93/seqgen/internal/autograd"
)

// ErrUnknownCellType is returned when a cell type other than "gru" or
// "lstm" is requested.
var ErrUnknownCellType = errors.New("unknown cell type")

// Cell type names accepted by NewCell.
const (
	CellGRU  = "gru"
	CellLSTM = "lstm"
)

// State is the recurrent state of one cell.  LSTM cells carry (c, h), GRU
// cells carry (h); wrappers may append entries of their own.
type State []*autograd.Var

// Cell advances a recurrent state by one time step for a whole batch.
type Cell interface {
	Step(tape *autograd.Tape, x *autograd.Var, state State) (*autograd.Var, State)
	ZeroState(tape *autograd.Tape, batch int) State
	InputSize() int
	OutputSize() int
}

// NewCell builds a single recurrent cell of the given type.
func NewCell(cellType string, params *Params, name string, inputSize, units int) (Cell, error) {
	switch cellType {
	case CellGRU:
		return NewGRUCell(params, name, inputSize, units), nil
	case CellLSTM:
		return NewLSTMCell(params, name, inputSize, units), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCellType, cellType)
	}
}

// ValidateCellType reports whether cellType names a supported cell.
func ValidateCellType(cellType string) error {
	switch cellType {
	case CellGRU, CellLSTM:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCellType, cellType)
	}
}

// MaskState keeps next for rows whose mask is 1 and prev elsewhere.
func MaskState(tape *autograd.Tape, next, prev State, mask []float32) State {
	out := make(State, len(next))
	for i := range next {
		out[i] = tape.MaskRows(next[i], prev[i], mask)
	}
	return out
}

// GatherState reorders the rows of every state entry, used to follow beam
// parents and to tile a batch across beams.
func GatherState(tape *autograd.Tape, s State, rows []int) State {
	out := make(State, len(s))
	for i, v := range s {
		out[i] = tape.Gather(v, rows)
	}
	return out
}
