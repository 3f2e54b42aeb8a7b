package seq2seq

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// TokenPicker chooses the next token from a row of logits.  It may modify
// the slice.
type TokenPicker func(logits []float32) int

// DecodeOptions control a single Decode call.
type DecodeOptions struct {
	// BeamWidth > 1 selects beam search.
	BeamWidth int
	// MaxSteps bounds the number of generated tokens.
	MaxSteps int
	// Pick replaces argmax in greedy decoding.  Ignored by beam search.
	Pick TokenPicker
}

// Hypothesis is one decoded sequence, without start or end token.
type Hypothesis struct {
	IDs []int
	// Score is the summed log probability (beam search and greedy).
	Score float64
}

// DefaultDecodeOptions derives decode options from the model config.
func (m *Model) DefaultDecodeOptions() DecodeOptions {
	opts := DecodeOptions{BeamWidth: 1, MaxSteps: m.cfg.MaxDecodeSteps}
	if m.cfg.UseBeamSearch {
		opts.BeamWidth = m.cfg.BeamWidth
	}
	return opts
}

// Decode generates one hypothesis per source row with the configured
// decoding strategy.
func (m *Model) Decode(ctx context.Context, src [][]int, lengths []int) ([]Hypothesis, error) {
	return m.DecodeWith(ctx, src, lengths, m.DefaultDecodeOptions())
}

// DecodeWith generates one hypothesis per source row.  The model must be in
// decode mode.  Decoding of a row stops at the end token or after MaxSteps
// tokens.  BeamWidth may not exceed MaxBeamWidth or the vocabulary size, and
// MaxSteps may not exceed MaxDecodeLength.
func (m *Model) DecodeWith(ctx context.Context, src [][]int, lengths []int, opts DecodeOptions) ([]Hypothesis, error) {
	if m.cfg.Mode != ModeDecode {
		return nil, fmt.Errorf("%w: decode needs %q, model is %q", ErrWrongMode, ModeDecode, m.cfg.Mode)
	}
	b := &Batch{EncoderInputs: src, EncoderLengths: lengths}
	if err := m.validateBatch(b); err != nil {
		return nil, err
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = m.cfg.MaxDecodeSteps
	}
	if limit := min(MaxBeamWidth, m.cfg.VocabSize); opts.BeamWidth > limit {
		return nil, fmt.Errorf("%w: beam width %d above %d", ErrDecodeLimit, opts.BeamWidth, limit)
	}
	if opts.MaxSteps > MaxDecodeLength {
		return nil, fmt.Errorf("%w: max steps %d above %d", ErrDecodeLimit, opts.MaxSteps, MaxDecodeLength)
	}
	tape := autograd.NoGrad()
	enc := m.Encode(tape, src, lengths)
	if opts.BeamWidth > 1 {
		return m.beamSearch(ctx, tape, enc, opts)
	}
	return m.greedy(ctx, tape, enc, opts)
}

func (m *Model) greedy(ctx context.Context, tape *autograd.Tape, enc *Encoded, opts DecodeOptions) ([]Hypothesis, error) {
	batch := len(enc.Lengths)
	dec := m.boundDecoder(m.Attention.Prepare(tape, enc.Outputs, enc.Lengths))
	state := m.initialDecoderState(tape, enc.Final, batch)

	out := make([]Hypothesis, batch)
	done := make([]bool, batch)
	tokens := slices.Repeat([]int{m.cfg.StartToken}, batch)
	logp := make([]float32, m.cfg.VocabSize)
	remaining := batch

	for step := 0; step < opts.MaxSteps && remaining > 0; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var o *autograd.Var
		o, state = dec.Step(tape, m.Embedding.Lookup(tape, tokens), state)
		logits := m.Output.Apply(tape, o)

		for b := 0; b < batch; b++ {
			if done[b] {
				continue
			}
			row := logits.Value.Row(b)
			tensor.LogSoftmax(logp, row)
			var id int
			if opts.Pick != nil {
				id = opts.Pick(row)
			} else {
				id = tensor.Argmax(row)
			}
			out[b].Score += float64(logp[id])
			tokens[b] = id
			if id == m.cfg.EndToken {
				done[b] = true
				remaining--
				continue
			}
			out[b].IDs = append(out[b].IDs, id)
		}
	}
	return out, nil
}

type beam struct {
	ids   []int
	score float64
	done  bool
}

type candidate struct {
	parent int
	token  int
	score  float64
}

// beamSearch keeps width hypotheses per source row.  The batch is tiled so
// row b*width+k carries beam k of source b.  Finished beams are carried
// forward with their score unchanged.
func (m *Model) beamSearch(ctx context.Context, tape *autograd.Tape, enc *Encoded, opts DecodeOptions) ([]Hypothesis, error) {
	batch := len(enc.Lengths)
	width := opts.BeamWidth
	rows := batch * width

	tiled := make([]int, rows)
	for r := range tiled {
		tiled[r] = r / width
	}
	mem := m.Attention.Prepare(tape, enc.Outputs, enc.Lengths).Tile(tape, width)
	dec := m.boundDecoder(mem)
	state := m.initialDecoderState(tape, enc.Final.Gather(tape, tiled), rows)

	beams := make([][]beam, batch)
	for b := range beams {
		beams[b] = make([]beam, width)
		for k := 1; k < width; k++ {
			// Only beam 0 is expanded on the first step.
			beams[b][k].score = math.Inf(-1)
		}
	}
	tokens := slices.Repeat([]int{m.cfg.StartToken}, rows)
	logp := make([]float32, m.cfg.VocabSize)

	for step := 0; step < opts.MaxSteps && !allDone(beams); step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var o *autograd.Var
		o, state = dec.Step(tape, m.Embedding.Lookup(tape, tokens), state)
		logits := m.Output.Apply(tape, o)

		parents := make([]int, rows)
		for b := 0; b < batch; b++ {
			cands := make([]candidate, 0, width*width)
			for k, bm := range beams[b] {
				if bm.done {
					cands = append(cands, candidate{parent: k, token: m.cfg.EndToken, score: bm.score})
					continue
				}
				tensor.LogSoftmax(logp, logits.Value.Row(b*width+k))
				for _, id := range topK(logp, width) {
					cands = append(cands, candidate{parent: k, token: id, score: bm.score + float64(logp[id])})
				}
			}
			slices.SortStableFunc(cands, func(x, y candidate) int {
				switch {
				case x.score > y.score:
					return -1
				case x.score < y.score:
					return 1
				}
				return 0
			})

			next := make([]beam, width)
			for k := range next {
				c := cands[k]
				prev := beams[b][c.parent]
				nb := beam{score: c.score, done: prev.done || c.token == m.cfg.EndToken}
				nb.ids = prev.ids
				if !nb.done {
					nb.ids = append(slices.Clip(prev.ids), c.token)
				}
				next[k] = nb
				parents[b*width+k] = b*width + c.parent
				tokens[b*width+k] = c.token
			}
			beams[b] = next
		}
		state = state.Gather(tape, parents)
	}

	out := make([]Hypothesis, batch)
	for b, bs := range beams {
		best := 0
		for k := range bs {
			if bs[k].score > bs[best].score {
				best = k
			}
		}
		out[b] = Hypothesis{IDs: bs[best].ids, Score: bs[best].score}
	}
	return out, nil
}

func allDone(beams [][]beam) bool {
	for _, bs := range beams {
		for _, bm := range bs {
			if !bm.done {
				return false
			}
		}
	}
	return true
}

// topK returns the indices of the k largest values, largest first.
func topK(x []float32, k int) []int {
	k = min(k, len(x))
	idx := make([]int, 0, k+1)
	for i, v := range x {
		pos := len(idx)
		for pos > 0 && x[idx[pos-1]] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = slices.Insert(idx, pos, i)
		if len(idx) > k {
			idx = idx[:k]
		}
	}
	return idx
}
