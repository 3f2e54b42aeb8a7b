package seq2seq

import "fmt"

// Batch holds padded token ids in batch-major order and the valid length of
// every row.  Decoder fields are only read in train mode.
type Batch struct {
	EncoderInputs  [][]int
	EncoderLengths []int
	DecoderInputs  [][]int
	DecoderLengths []int
}

// Size returns the number of rows.
func (b *Batch) Size() int { return len(b.EncoderInputs) }

// Validate checks that rows are rectangular and lengths fit the padding.
func (b *Batch) Validate(mode Mode) error {
	if len(b.EncoderInputs) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}
	if err := checkPadded("encoder", b.EncoderInputs, b.EncoderLengths, 1); err != nil {
		return err
	}
	if mode != ModeTrain {
		return nil
	}
	if len(b.DecoderInputs) != len(b.EncoderInputs) {
		return fmt.Errorf("%w: %d encoder rows but %d decoder rows", ErrInvalidBatch, len(b.EncoderInputs), len(b.DecoderInputs))
	}
	return checkPadded("decoder", b.DecoderInputs, b.DecoderLengths, 0)
}

func checkPadded(side string, rows [][]int, lengths []int, minWidth int) error {
	if len(lengths) != len(rows) {
		return fmt.Errorf("%w: %s has %d rows but %d lengths", ErrInvalidBatch, side, len(rows), len(lengths))
	}
	width := len(rows[0])
	if width < minWidth {
		return fmt.Errorf("%w: %s inputs need at least %d time steps", ErrInvalidBatch, side, minWidth)
	}
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: %s row %d has %d steps, expected %d", ErrInvalidBatch, side, i, len(row), width)
		}
		if lengths[i] < 0 || lengths[i] > width {
			return fmt.Errorf("%w: %s length %d of row %d outside [0, %d]", ErrInvalidBatch, side, lengths[i], i, width)
		}
	}
	return nil
}

func checkIDs(side string, rows [][]int, vocab int) error {
	for i, row := range rows {
		for t, id := range row {
			if id < 0 || id >= vocab {
				return fmt.Errorf("%w: %s id %d at [%d,%d] outside vocabulary of %d", ErrInvalidBatch, side, id, i, t, vocab)
			}
		}
	}
	return nil
}

// DecoderTrain is the teacher-forcing view of the decoder side of a batch.
// Every row of Inputs and Targets has one more step than the padded decoder
// inputs.
type DecoderTrain struct {
	Inputs  [][]int // start token followed by the decoder inputs
	Targets [][]int // decoder inputs with the end token after the last valid step
	Lengths []int   // decoder lengths + 1
}

// MaxLen returns the longest valid length.
func (d *DecoderTrain) MaxLen() int {
	n := 0
	for _, l := range d.Lengths {
		n = max(n, l)
	}
	return n
}

// PrepareDecoderTrain inserts the start token in front of every decoder row
// and the end token right after its last valid step.  Positions past the end
// token hold pad.
func PrepareDecoderTrain(b *Batch, start, end, pad int) DecoderTrain {
	n := len(b.DecoderInputs)
	out := DecoderTrain{
		Inputs:  make([][]int, n),
		Targets: make([][]int, n),
		Lengths: make([]int, n),
	}
	for i, row := range b.DecoderInputs {
		l := b.DecoderLengths[i]

		in := make([]int, len(row)+1)
		in[0] = start
		copy(in[1:], row)

		target := make([]int, len(row)+1)
		copy(target, row[:l])
		target[l] = end
		for t := l + 1; t < len(target); t++ {
			target[t] = pad
		}

		out.Inputs[i] = in
		out.Targets[i] = target
		out.Lengths[i] = l + 1
	}
	return out
}

// column returns ids[b][t] for every row b.
func column(ids [][]int, t int) []int {
	col := make([]int, len(ids))
	for b, row := range ids {
		col[b] = row[t]
	}
	return col
}
