package train

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/seq2seq"
	"github.com/samcharles93/seqgen/internal/tensor"
)

var corpus = []data.Pair{
	{Source: "ab", Target: "ba"},
	{Source: "ba", Target: "ab"},
	{Source: "aa", Target: "bb"},
	{Source: "bb", Target: "aa"},
}

func newTrainer(t *testing.T, optimizer string) (*Trainer, *data.Batcher) {
	t.Helper()
	vocab := data.BuildVocab(data.Texts(corpus), 0)
	cfg := seq2seq.DefaultConfig()
	cfg.VocabSize = vocab.Size()
	cfg.HiddenUnits = 8
	cfg.Depth = 1
	cfg.CellType = "gru"
	cfg.Optimizer = optimizer
	cfg.BatchSize = 2
	model, err := seq2seq.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := New(model, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.InitVars(nil); err != nil {
		t.Fatal(err)
	}
	return tr, data.NewBatcher(corpus, vocab, cfg.BatchSize, 0, 3)
}

func TestNewRequiresTrainMode(t *testing.T) {
	t.Parallel()
	cfg := seq2seq.DefaultConfig()
	cfg.VocabSize, cfg.HiddenUnits, cfg.Depth = 6, 4, 1
	cfg.Mode = seq2seq.ModeDecode
	model, err := seq2seq.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(model, nil); !errors.Is(err, seq2seq.ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode, got %v", err)
	}
}

func TestInitVarsShapeMismatch(t *testing.T) {
	t.Parallel()
	tr, _ := newTrainer(t, "adam")
	bad := tensor.NewMat(2, 2)
	if err := tr.InitVars(&bad); err == nil {
		t.Fatal("expected embedding shape error")
	}
}

func TestTrainBatchAdvancesStep(t *testing.T) {
	t.Parallel()
	tr, batches := newTrainer(t, "adam")
	b := batches.Epoch(0)[0]
	res, err := tr.TrainBatch(context.Background(), b, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if res.Step != 1 || tr.GlobalStep() != 1 {
		t.Fatalf("expected step 1, got %d", res.Step)
	}
	if res.Loss <= 0 || res.GradNorm <= 0 {
		t.Fatalf("expected positive loss and grad norm, got %f %f", res.Loss, res.GradNorm)
	}
}

func TestTrainReducesLossAndCheckpoints(t *testing.T) {
	t.Parallel()
	tr, batches := newTrainer(t, "adam")
	dir := t.TempDir()
	summary, err := NewSummaryWriter(filepath.Join(dir, "summary.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	tr.Summary = summary

	var losses []float32
	opts := Options{
		Epochs:          30,
		LearningRate:    0.05,
		DecayRate:       0.97,
		SaveDir:         dir,
		KeepCheckpoints: 2,
		OnStep:          func(r StepResult) { losses = append(losses, r.Loss) },
	}
	report, err := tr.Train(context.Background(), batches, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := summary.Close(); err != nil {
		t.Fatal(err)
	}

	if report.Epochs != 30 || report.Steps != 60 || len(losses) != 60 {
		t.Fatalf("expected 30 epochs and 60 steps, got %+v (%d callbacks)", report, len(losses))
	}
	if losses[len(losses)-1] >= losses[0] {
		t.Fatalf("expected loss to fall, first %f last %f", losses[0], losses[len(losses)-1])
	}

	steps, err := checkpoint.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[1] != 60 {
		t.Fatalf("expected the 2 newest checkpoints ending at 60, got %v", steps)
	}
	if report.Checkpoint != checkpoint.PathFor(dir, 60) {
		t.Fatalf("unexpected checkpoint path %s", report.Checkpoint)
	}

	f, err := os.Open(filepath.Join(dir, "summary.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := ReadSummary(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 180 || records[0].Tag != "grad_norm" || records[1].Tag != "learning_rate" {
		t.Fatalf("expected 3 sorted tags per step, got %d records starting %+v", len(records), records[0])
	}
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first, batches := newTrainer(t, "sgd")
	if _, err := first.Train(context.Background(), batches, Options{Epochs: 2, LearningRate: 0.1, SaveDir: dir}); err != nil {
		t.Fatal(err)
	}

	second, _ := newTrainer(t, "sgd")
	path, _, err := checkpoint.Latest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Resume(path); err != nil {
		t.Fatal(err)
	}
	if second.GlobalStep() != 4 || second.Epoch() != 2 || second.RunID() != first.RunID() {
		t.Fatalf("expected step 4 epoch 2 and same run id, got %d %d %s", second.GlobalStep(), second.Epoch(), second.RunID())
	}
	report, err := second.Train(context.Background(), batches, Options{Epochs: 3, LearningRate: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if report.Epochs != 1 || second.GlobalStep() != 6 {
		t.Fatalf("expected one remaining epoch, got %+v step %d", report, second.GlobalStep())
	}
}

func TestTrainCancelledSavesCheckpoint(t *testing.T) {
	t.Parallel()
	tr, batches := newTrainer(t, "rmsprop")
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{
		Epochs:       5,
		LearningRate: 0.01,
		SaveDir:      dir,
		OnStep: func(r StepResult) {
			if r.Step == 3 {
				cancel()
			}
		},
	}
	report, err := tr.Train(ctx, batches, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Checkpoint != checkpoint.PathFor(dir, 3) {
		t.Fatalf("expected checkpoint at step 3, got %q", report.Checkpoint)
	}
}

func TestFreshRunKeepsItsCheckpointsBesideOlderRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	old, _ := newTrainer(t, "sgd")
	meta := checkpoint.Metadata{Config: old.Model.Config(), GlobalStep: 1000, Epoch: 500, RunID: old.RunID()}
	if err := checkpoint.Save(checkpoint.PathFor(dir, 1000), old.Model.Params, meta); err != nil {
		t.Fatal(err)
	}

	fresh, batches := newTrainer(t, "sgd")
	report, err := fresh.Train(context.Background(), batches, Options{Epochs: 2, LearningRate: 0.1, SaveDir: dir, KeepCheckpoints: 1})
	if err != nil {
		t.Fatal(err)
	}
	if report.Checkpoint != checkpoint.PathFor(dir, 4) {
		t.Fatalf("expected checkpoint at step 4, got %q", report.Checkpoint)
	}
	if _, err := os.Stat(report.Checkpoint); err != nil {
		t.Fatalf("expected reported checkpoint to exist, got %v", err)
	}
	steps, err := checkpoint.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0] != 4 || steps[1] != 1000 {
		t.Fatalf("expected [4 1000], got %v", steps)
	}
}
