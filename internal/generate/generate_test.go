package generate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/seq2seq"
)

func testVocab(t *testing.T) *data.Vocab {
	t.Helper()
	return data.BuildVocab([]string{"abc"}, 0)
}

func testConfig(vocab *data.Vocab, mode seq2seq.Mode) seq2seq.Config {
	cfg := seq2seq.DefaultConfig()
	cfg.VocabSize = vocab.Size()
	cfg.HiddenUnits = 6
	cfg.Depth = 2
	cfg.Mode = mode
	cfg.MaxDecodeSteps = 3
	return cfg
}

// preferToken makes the output projection emit id at every step.
func preferToken(m *seq2seq.Model, id int) {
	m.Output.Kernel.Value.Zero()
	row := m.Output.Bias.Value.Row(0)
	for i := range row {
		row[i] = 0
	}
	row[id] = 50
}

func newGenerator(t *testing.T, prefer string) *Generator {
	t.Helper()
	vocab := testVocab(t)
	m, err := seq2seq.New(testConfig(vocab, seq2seq.ModeDecode), nil)
	if err != nil {
		t.Fatal(err)
	}
	preferToken(m, vocab.ID(prefer))
	g, err := New(m, vocab, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGenerateGreedy(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, "b")
	res, err := g.Generate(context.Background(), "ca", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "bbb" || len(res.IDs) != 3 {
		t.Fatalf("expected \"bbb\", got %q (%v)", res.Text, res.IDs)
	}
	if res.Source != "ca" {
		t.Fatalf("expected source to be echoed, got %q", res.Source)
	}
}

func TestGenerateStopsAtEndToken(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, data.EOSToken)
	res, err := g.Generate(context.Background(), "abc", Options{BeamWidth: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" {
		t.Fatalf("expected empty text, got %q", res.Text)
	}
}

func TestGenerateOptionOverrides(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, "c")
	res, err := g.Generate(context.Background(), "a", Options{MaxSteps: 5, Temperature: 0.8, TopK: 2, Seed: 4})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "ccccc" {
		t.Fatalf("expected sampling to follow a dominant logit, got %q", res.Text)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, "a")
	if _, err := g.Generate(context.Background(), "", Options{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	bad := []Options{
		{BeamWidth: -1},
		{BeamWidth: g.Vocab().Size() + 1},
		{BeamWidth: 60000},
		{MaxSteps: -2},
		{MaxSteps: seq2seq.MaxDecodeLength + 1},
		{Temperature: -1},
		{TopK: -1},
		{TopP: 1.5},
	}
	for _, opts := range bad {
		if _, err := g.Generate(context.Background(), "a", opts); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("%+v: expected ErrInvalidOptions, got %v", opts, err)
		}
	}
}

func TestGenerateLinesFeedsHistory(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, "a")
	var seen []int
	onLine := func(i int, _ Result) error {
		seen = append(seen, i)
		return nil
	}
	lines, err := g.GenerateLines(context.Background(), []string{"b", "c", "b"}, Options{MaxSteps: 2, OnLine: onLine})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[2] != 2 {
		t.Fatalf("expected a callback per line, got %v", seen)
	}
	want := []string{"b", "caa", "baaaa"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(lines))
	}
	for i, l := range lines {
		if l.Source != want[i] || l.Text != "aa" {
			t.Fatalf("line %d: expected source %q text \"aa\", got %q %q", i, want[i], l.Source, l.Text)
		}
	}
	if _, err := g.GenerateLines(context.Background(), nil, Options{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}

	stop := errors.New("stop")
	partial, err := g.GenerateLines(context.Background(), []string{"a", "b"}, Options{OnLine: func(int, Result) error { return stop }})
	if !errors.Is(err, stop) || len(partial) != 1 {
		t.Fatalf("expected the callback error after one line, got %v with %d lines", err, len(partial))
	}
}

func TestGenerateConcurrent(t *testing.T) {
	t.Parallel()
	g := newGenerator(t, "b")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	texts := make([]string, 8)
	for i := range 8 {
		wg.Go(func() {
			res, err := g.Generate(context.Background(), "abc", Options{BeamWidth: 1 + i%3})
			errs[i], texts[i] = err, res.Text
		})
	}
	wg.Wait()
	for i := range 8 {
		if errs[i] != nil || texts[i] != "bbb" {
			t.Fatalf("call %d: expected \"bbb\", got %q (%v)", i, texts[i], errs[i])
		}
	}
}

func TestNewRejectsMismatches(t *testing.T) {
	t.Parallel()
	vocab := testVocab(t)
	train, err := seq2seq.New(testConfig(vocab, seq2seq.ModeTrain), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(train, vocab, nil); !errors.Is(err, seq2seq.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}

	small := data.BuildVocab([]string{"a"}, 0)
	dec, err := seq2seq.New(testConfig(vocab, seq2seq.ModeDecode), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(dec, small, nil); !errors.Is(err, ErrVocabMismatch) {
		t.Fatalf("expected ErrVocabMismatch, got %v", err)
	}
}

func TestLoadFromCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vocab := testVocab(t)
	cfg := testConfig(vocab, seq2seq.ModeTrain)
	trained, err := seq2seq.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	preferToken(trained, vocab.ID("c"))

	ckpt := checkpoint.PathFor(dir, 12)
	if err := checkpoint.Save(ckpt, trained.Params, checkpoint.Metadata{Config: cfg, GlobalStep: 12}); err != nil {
		t.Fatal(err)
	}
	vocabPath := filepath.Join(dir, "vocab.json")
	if err := vocab.Save(vocabPath); err != nil {
		t.Fatal(err)
	}

	g, err := Load(ckpt, vocabPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	info := g.Info()
	if info.GlobalStep != 12 || info.Checkpoint != ckpt || info.Config.Mode != seq2seq.ModeDecode {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Params != trained.Params.Count(false) {
		t.Fatalf("expected %d params, got %d", trained.Params.Count(false), info.Params)
	}
	res, err := g.Generate(context.Background(), "ab", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "ccc" {
		t.Fatalf("expected restored weights to emit \"ccc\", got %q", res.Text)
	}

	if _, err := Load(filepath.Join(dir, "missing"), vocabPath, nil); err == nil {
		t.Fatal("expected error for missing checkpoint")
	}
}
