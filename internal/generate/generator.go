// Package generate turns a trained checkpoint into text.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/seq2seq"
)

var (
	// ErrEmptyInput is returned for a source that encodes to no tokens.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidOptions is returned for out-of-range generation options.
	ErrInvalidOptions = errors.New("invalid generation options")
	// ErrVocabMismatch is returned when the vocabulary does not fit the model.
	ErrVocabMismatch = errors.New("vocabulary does not match model")
)

// Options control one generation.  Zero values fall back to the model
// config.
type Options struct {
	BeamWidth int
	MaxSteps  int
	// Temperature > 0 samples each token instead of taking the argmax.
	// Sampling always decodes with a single beam.
	Temperature float32
	TopK        int
	TopP        float32
	Seed        int64
	// OnLine, when set, is called by GenerateLines after each line.
	OnLine func(line int, r Result) error
}

// validate checks opts against a model with vocabSize tokens.
func (o Options) validate(vocabSize int) error {
	beamLimit := min(seq2seq.MaxBeamWidth, vocabSize)
	switch {
	case o.BeamWidth < 0 || o.BeamWidth > beamLimit:
		return fmt.Errorf("%w: beam_width must be in [0, %d]", ErrInvalidOptions, beamLimit)
	case o.MaxSteps < 0 || o.MaxSteps > seq2seq.MaxDecodeLength:
		return fmt.Errorf("%w: max_steps must be in [0, %d]", ErrInvalidOptions, seq2seq.MaxDecodeLength)
	case o.Temperature < 0:
		return fmt.Errorf("%w: temperature must be >= 0", ErrInvalidOptions)
	case o.TopK < 0:
		return fmt.Errorf("%w: top_k must be >= 0", ErrInvalidOptions)
	case o.TopP < 0 || o.TopP > 1:
		return fmt.Errorf("%w: top_p must be in [0, 1]", ErrInvalidOptions)
	}
	return nil
}

// Result is one generated sequence.
type Result struct {
	Source   string
	Text     string
	IDs      []int
	Score    float64
	Duration time.Duration
}

// Info describes the loaded model.
type Info struct {
	Config     seq2seq.Config
	GlobalStep int64
	Checkpoint string
	Params     int
}

// Generator holds a decode-mode model and its vocabulary.  Parameters are
// only read after construction, so one Generator serves concurrent calls.
type Generator struct {
	model *seq2seq.Model
	vocab *data.Vocab
	info  Info
	log   logger.Logger
}

// New wraps a decode-mode model.
func New(model *seq2seq.Model, vocab *data.Vocab, log logger.Logger) (*Generator, error) {
	if model.Mode() != seq2seq.ModeDecode {
		return nil, fmt.Errorf("%w: generator needs a %q model", seq2seq.ErrWrongMode, seq2seq.ModeDecode)
	}
	if vocab.Size() != model.Config().VocabSize {
		return nil, fmt.Errorf("%w: vocab has %d tokens, model %d", ErrVocabMismatch, vocab.Size(), model.Config().VocabSize)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{
		model: model,
		vocab: vocab,
		info:  Info{Config: model.Config(), Params: model.Params.Count(false)},
		log:   log,
	}, nil
}

// Load rebuilds the model stored at ckptPath in decode mode and pairs it
// with the vocabulary at vocabPath.
func Load(ckptPath, vocabPath string, log logger.Logger) (*Generator, error) {
	vocab, err := data.LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	f, err := checkpoint.Open(ckptPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	meta, err := f.Metadata()
	if err != nil {
		return nil, err
	}
	cfg := meta.Config
	cfg.Mode = seq2seq.ModeDecode
	model, err := seq2seq.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("rebuild model: %w", err)
	}
	if err := checkpoint.Restore(f, model.Params); err != nil {
		return nil, err
	}

	g, err := New(model, vocab, log)
	if err != nil {
		return nil, err
	}
	g.info.GlobalStep = meta.GlobalStep
	g.info.Checkpoint = ckptPath
	g.log.Info("generator loaded", "checkpoint", ckptPath, "step", meta.GlobalStep, "vocab", vocab.Size())
	return g, nil
}

// Info describes the loaded model.
func (g *Generator) Info() Info { return g.info }

// Vocab returns the generator's vocabulary.
func (g *Generator) Vocab() *data.Vocab { return g.vocab }

// Generate decodes one sequence from source.
func (g *Generator) Generate(ctx context.Context, source string, opts Options) (Result, error) {
	if err := opts.validate(g.vocab.Size()); err != nil {
		return Result{}, err
	}
	ids := g.vocab.Encode(source)
	if len(ids) == 0 {
		return Result{}, ErrEmptyInput
	}

	start := time.Now()
	hyps, err := g.model.DecodeWith(ctx, [][]int{ids}, []int{len(ids)}, g.decodeOptions(opts))
	if err != nil {
		return Result{}, err
	}
	h := hyps[0]
	res := Result{
		Source:   source,
		Text:     g.vocab.Decode(h.IDs),
		IDs:      h.IDs,
		Score:    h.Score,
		Duration: time.Since(start),
	}
	g.log.Debug("generated", "source_len", len(ids), "tokens", len(h.IDs), "score", h.Score, "duration", res.Duration)
	return res, nil
}

// GenerateLines produces one line per keyword.  The source of line i is
// keyword i followed by every line generated before it.
func (g *Generator) GenerateLines(ctx context.Context, keywords []string, opts Options) ([]Result, error) {
	if len(keywords) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]Result, 0, len(keywords))
	var history strings.Builder
	for i, kw := range keywords {
		if i > 0 && opts.Temperature > 0 {
			// Vary the seed per line.
			opts.Seed++
		}
		res, err := g.Generate(ctx, kw+history.String(), opts)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", i+1, err)
		}
		out = append(out, res)
		history.WriteString(res.Text)
		if opts.OnLine != nil {
			if err := opts.OnLine(i, res); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (g *Generator) decodeOptions(opts Options) seq2seq.DecodeOptions {
	d := g.model.DefaultDecodeOptions()
	if opts.BeamWidth > 0 {
		d.BeamWidth = opts.BeamWidth
	}
	if opts.MaxSteps > 0 {
		d.MaxSteps = opts.MaxSteps
	}
	if opts.Temperature > 0 {
		s := NewSampler(SamplerConfig{Seed: opts.Seed, Temperature: opts.Temperature, TopK: opts.TopK, TopP: opts.TopP})
		d.BeamWidth = 1
		d.Pick = s.Sample
	}
	return d
}
