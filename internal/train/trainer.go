// Package train drives optimisation of a seq2seq model: variable
// initialisation, the per-batch update and the multi-epoch loop with
// learning-rate decay and checkpointing.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/optim"
	"github.com/samcharles93/seqgen/internal/seq2seq"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// ErrNonFiniteLoss is returned when a batch produces a NaN or infinite loss.
var ErrNonFiniteLoss = errors.New("train: non-finite loss")

// BatchSource yields the batches of an epoch.  data.Batcher implements it.
type BatchSource interface {
	Epoch(epoch int) []*seq2seq.Batch
	Len() int
}

// Options control Train.
type Options struct {
	Epochs       int
	LearningRate float32
	// DecayRate multiplies the learning rate once per completed epoch.
	DecayRate float32
	// SaveDir receives a checkpoint after every epoch.  Empty disables
	// checkpointing.
	SaveDir         string
	KeepCheckpoints int
	// OnStep is called after every applied update.
	OnStep func(StepResult)
}

// DefaultOptions returns 6 epochs at 0.002 decaying by 0.97 per epoch.
func DefaultOptions() Options {
	return Options{
		Epochs:          6,
		LearningRate:    0.002,
		DecayRate:       0.97,
		KeepCheckpoints: 5,
	}
}

// StepResult describes one applied update.
type StepResult struct {
	Step         int64
	Epoch        int
	Batch        int
	Loss         float32
	GradNorm     float32
	LearningRate float32
	Duration     time.Duration
}

// Report summarises a Train call.
type Report struct {
	Epochs     int
	Steps      int64
	MeanLoss   float32 // mean batch loss of the last epoch
	Checkpoint string  // last checkpoint written, if any
}

// Trainer owns the optimiser state of one training run.
type Trainer struct {
	Model     *seq2seq.Model
	Optimizer optim.Optimizer
	Summary   *SummaryWriter

	log   logger.Logger
	step  optim.GlobalStep
	epoch int
	runID string
}

// New returns a trainer for a train-mode model.  The optimiser is chosen by
// the model config.
func New(model *seq2seq.Model, log logger.Logger) (*Trainer, error) {
	if model.Mode() != seq2seq.ModeTrain {
		return nil, fmt.Errorf("%w: trainer needs a %q model", seq2seq.ErrWrongMode, seq2seq.ModeTrain)
	}
	if log == nil {
		log = logger.Discard()
	}
	t := &Trainer{
		Model:     model,
		Optimizer: optim.ByName(model.Config().Optimizer),
		log:       log,
		runID:     uuid.NewString(),
	}
	log.Info("setting optimizer", "optimizer", t.Optimizer.Name(), "max_gradient_norm", model.Config().MaxGradientNorm)
	return t, nil
}

// GlobalStep returns the number of applied updates.
func (t *Trainer) GlobalStep() int64 { return t.step.Load() }

// Epoch returns the next epoch Train will run.
func (t *Trainer) Epoch() int { return t.epoch }

// RunID identifies this run in checkpoints and summaries.
func (t *Trainer) RunID() string { return t.runID }

// InitVars loads the embedding table and resets optimiser state and the
// step counter.  A nil table draws a random one.
func (t *Trainer) InitVars(embedding *tensor.Mat) error {
	cfg := t.Model.Config()
	if embedding == nil {
		m := data.RandomEmbedding(cfg.VocabSize, cfg.HiddenUnits, cfg.Seed)
		embedding = &m
	}
	if err := t.Model.AssignEmbedding(embedding); err != nil {
		return fmt.Errorf("init vars: %w", err)
	}
	t.Optimizer.Reset()
	t.step.Store(0)
	t.epoch = 0
	return nil
}

// Resume restores parameters, step and epoch from a checkpoint.
func (t *Trainer) Resume(path string) error {
	f, err := checkpoint.Open(path)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	defer func() { _ = f.Close() }()

	meta, err := f.Metadata()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if err := checkpoint.Restore(f, t.Model.Params); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	t.step.Store(meta.GlobalStep)
	t.epoch = meta.Epoch
	if meta.RunID != "" {
		t.runID = meta.RunID
	}
	t.log.Info("resumed", "path", path, "step", meta.GlobalStep, "epoch", meta.Epoch)
	return nil
}

// TrainBatch runs forward and backward passes over b, clips the gradients
// by global norm and applies one update at learning rate lr.
func (t *Trainer) TrainBatch(ctx context.Context, b *seq2seq.Batch, lr float32) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	start := time.Now()
	params := t.Model.Params
	params.ZeroGrad()

	tape := autograd.NewTape()
	out, err := t.Model.Forward(tape, b)
	if err != nil {
		return StepResult{}, err
	}
	loss := out.Loss.Scalar()
	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		return StepResult{}, fmt.Errorf("%w at step %d", ErrNonFiniteLoss, t.step.Load()+1)
	}
	if err := tape.Backward(out.Loss); err != nil {
		return StepResult{}, err
	}

	trainable := params.Trainable()
	norm := optim.ClipByGlobalNorm(trainable, t.Model.Config().MaxGradientNorm)
	t.Optimizer.Apply(trainable, lr)

	return StepResult{
		Step:         t.step.Inc(),
		Epoch:        t.epoch,
		Loss:         loss,
		GradNorm:     norm,
		LearningRate: lr,
		Duration:     time.Since(start),
	}, nil
}

// Train runs opts.Epochs epochs over src, starting from the current epoch
// when resumed.  The learning rate of epoch e is LearningRate*DecayRate^e.
// On cancellation the current parameters are checkpointed and ctx.Err() is
// returned.
func (t *Trainer) Train(ctx context.Context, src BatchSource, opts Options) (Report, error) {
	if opts.LearningRate <= 0 {
		opts.LearningRate = t.Model.Config().LearningRate
	}
	if opts.DecayRate <= 0 {
		opts.DecayRate = 1
	}
	report := Report{}

	for t.epoch < opts.Epochs {
		epoch := t.epoch
		lr := opts.LearningRate * float32(math.Pow(float64(opts.DecayRate), float64(epoch)))
		t.log.Info("epoch start", "epoch", epoch+1, "of", opts.Epochs, "batches", src.Len(), "lr", lr)

		var sum float64
		var n int
		for i, b := range src.Epoch(epoch) {
			res, err := t.TrainBatch(ctx, b, lr)
			if err != nil {
				if ctx.Err() != nil {
					report.Checkpoint = t.saveOnExit(opts)
					return report, ctx.Err()
				}
				return report, fmt.Errorf("epoch %d batch %d: %w", epoch+1, i, err)
			}
			res.Batch = i
			sum += float64(res.Loss)
			n++
			report.Steps++
			if t.Summary != nil {
				if err := t.Summary.Scalars(res.Step, map[string]float64{
					"loss":          float64(res.Loss),
					"grad_norm":     float64(res.GradNorm),
					"learning_rate": float64(res.LearningRate),
				}); err != nil {
					t.log.Warn("summary write failed", "error", err)
				}
			}
			if opts.OnStep != nil {
				opts.OnStep(res)
			}
		}
		if n > 0 {
			report.MeanLoss = float32(sum / float64(n))
		}
		report.Epochs++
		t.epoch = epoch + 1
		t.log.Info("epoch done", "epoch", epoch+1, "mean_loss", report.MeanLoss, "step", t.step.Load())

		if opts.SaveDir != "" {
			path, err := t.Save(opts.SaveDir, opts.KeepCheckpoints)
			if err != nil {
				return report, err
			}
			report.Checkpoint = path
		}
	}
	return report, nil
}

func (t *Trainer) saveOnExit(opts Options) string {
	if opts.SaveDir == "" {
		return ""
	}
	path, err := t.Save(opts.SaveDir, opts.KeepCheckpoints)
	if err != nil {
		t.log.Error("checkpoint on cancel failed", "error", err)
		return ""
	}
	return path
}

// Save writes a checkpoint for the current step to dir and prunes this run's
// older checkpoints beyond keep (keep <= 0 keeps everything).  The stored epoch is the next
// epoch Train would run.
func (t *Trainer) Save(dir string, keep int) (string, error) {
	path := checkpoint.PathFor(dir, t.step.Load())
	meta := checkpoint.Metadata{
		Config:     t.Model.Config(),
		GlobalStep: t.step.Load(),
		Epoch:      t.epoch,
		RunID:      t.runID,
	}
	if err := checkpoint.Save(path, t.Model.Params, meta); err != nil {
		return "", err
	}
	t.log.Info("checkpoint saved", "path", path, "step", meta.GlobalStep)
	if keep > 0 {
		if err := checkpoint.Prune(dir, t.runID, keep); err != nil {
			t.log.Warn("checkpoint prune failed", "error", err)
		}
	}
	return path, nil
}
