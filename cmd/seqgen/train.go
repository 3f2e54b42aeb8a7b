package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqgen/internal/checkpoint"
	"github.com/samcharles93/seqgen/internal/data"
	"github.com/samcharles93/seqgen/internal/logger"
	"github.com/samcharles93/seqgen/internal/seq2seq"
	"github.com/samcharles93/seqgen/internal/train"
)

func trainCmd() *cli.Command {
	var (
		corpusPath    string
		vocabPath     string
		embeddingPath string
		maxVocab      int
		maxLen        int
		epochs        int
		learningRate  float64
		decayRate     float64
		keep          int
		resume        bool
		noSummary     bool
		noProgress    bool
	)
	defaults := train.DefaultOptions()
	cfg := seq2seq.DefaultConfig()

	return &cli.Command{
		Name:  "train",
		Usage: "Train a model on a tab-separated source/target corpus",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "corpus file with one \"source<TAB>target\" pair per line",
				Required:    true,
				Destination: &corpusPath,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "vocabulary file; built from the corpus when missing (default: <save-dir>/vocab.json)",
				Destination: &vocabPath,
			},
			&cli.StringFlag{
				Name:        "embedding",
				Usage:       "pretrained embedding table in word2vec text format",
				Destination: &embeddingPath,
			},
			&cli.IntFlag{
				Name:        "max-vocab",
				Usage:       "cap on vocabulary size when building one (0 = no cap)",
				Destination: &maxVocab,
			},
			&cli.IntFlag{
				Name:        "max-len",
				Usage:       "truncate sources and targets to this many characters (0 = no limit)",
				Destination: &maxLen,
			},
			&cli.IntFlag{
				Name:        "epochs",
				Aliases:     []string{"e"},
				Usage:       "epochs to train",
				Value:       defaults.Epochs,
				Destination: &epochs,
			},
			&cli.Float64Flag{
				Name:        "learning-rate",
				Aliases:     []string{"lr"},
				Usage:       "initial learning rate",
				Value:       float64(defaults.LearningRate),
				Destination: &learningRate,
			},
			&cli.Float64Flag{
				Name:        "decay-rate",
				Usage:       "learning rate multiplier applied after every epoch",
				Value:       float64(defaults.DecayRate),
				Destination: &decayRate,
			},
			&cli.IntFlag{
				Name:        "keep",
				Usage:       "checkpoints to keep in the save dir (0 = all)",
				Value:       defaults.KeepCheckpoints,
				Destination: &keep,
			},
			&cli.BoolFlag{
				Name:        "resume",
				Usage:       "continue from the latest checkpoint in the save dir",
				Destination: &resume,
			},
			&cli.BoolFlag{
				Name:        "no-summary",
				Usage:       "do not write summary.jsonl",
				Destination: &noSummary,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		}, modelFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig, &cfg)
			applyTrainConfig(cmd, fileConfig, &epochs, &learningRate, &decayRate, &keep)
			dir := resolveSaveDir(saveDir)
			if !resume {
				if err := checkFreshSaveDir(dir); err != nil {
					return err
				}
			}

			pairs, err := data.LoadPairs(corpusPath)
			if err != nil {
				return err
			}
			if vocabPath == "" {
				vocabPath = filepath.Join(dir, vocabFileName)
			}
			vocab, err := loadOrBuildVocab(log, vocabPath, pairs, maxVocab)
			if err != nil {
				return err
			}

			cfg.VocabSize = vocab.Size()
			cfg.Mode = seq2seq.ModeTrain
			cfg.LearningRate = float32(learningRate)
			model, err := seq2seq.New(cfg, log)
			if err != nil {
				return err
			}
			tr, err := train.New(model, log)
			if err != nil {
				return err
			}
			if err := initVars(log, tr, embeddingPath, vocab, cfg); err != nil {
				return err
			}
			if resume {
				if err := resumeLatest(log, tr, dir); err != nil {
					return err
				}
			}

			if !noSummary {
				sw, err := train.NewSummaryWriter(filepath.Join(dir, summaryName))
				if err != nil {
					return err
				}
				defer func() { _ = sw.Close() }()
				tr.Summary = sw
			}

			batches := data.NewBatcher(pairs, vocab, cfg.BatchSize, maxLen, cfg.Seed)
			opts := trainOptionsFrom(epochs, learningRate, decayRate, keep)
			opts.SaveDir = dir
			log.Info("training",
				"examples", humanize.Comma(int64(batches.Examples())),
				"batches_per_epoch", batches.Len(),
				"epochs", opts.Epochs,
				"save_dir", dir)

			var bar *progressbar.ProgressBar
			if !noProgress {
				remaining := max(opts.Epochs-tr.Epoch(), 0) * batches.Len()
				bar = newProgressBar(remaining)
			}
			opts.OnStep = func(r train.StepResult) {
				if bar != nil {
					bar.Describe(fmt.Sprintf("epoch %d loss %.4f", r.Epoch+1, r.Loss))
					_ = bar.Add(1)
				}
				log.Debug("step", "step", r.Step, "loss", r.Loss, "grad_norm", r.GradNorm, "lr", r.LearningRate, "duration", r.Duration)
			}

			start := time.Now()
			report, err := tr.Train(ctx, batches, opts)
			if bar != nil {
				_ = bar.Finish()
			}
			if errors.Is(err, context.Canceled) {
				log.Warn("training interrupted", "step", tr.GlobalStep(), "checkpoint", report.Checkpoint)
				return nil
			}
			if err != nil {
				return err
			}

			attrs := []any{
				"epochs", report.Epochs,
				"steps", humanize.Comma(report.Steps),
				"mean_loss", report.MeanLoss,
				"elapsed", time.Since(start).Round(time.Second),
			}
			if report.Checkpoint != "" {
				attrs = append(attrs, "checkpoint", report.Checkpoint)
				if st, err := os.Stat(report.Checkpoint); err == nil {
					attrs = append(attrs, "size", humanize.Bytes(uint64(st.Size())))
				}
			}
			log.Info("training done", attrs...)
			return nil
		},
	}
}

func loadOrBuildVocab(log logger.Logger, path string, pairs []data.Pair, maxSize int) (*data.Vocab, error) {
	vocab, err := data.LoadVocab(path)
	if err == nil {
		log.Info("loaded vocabulary", "path", path, "size", vocab.Size())
		return vocab, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	vocab = data.BuildVocab(data.Texts(pairs), maxSize)
	if err := vocab.Save(path); err != nil {
		return nil, err
	}
	log.Info("built vocabulary", "path", path, "size", vocab.Size())
	return vocab, nil
}

func initVars(log logger.Logger, tr *train.Trainer, path string, vocab *data.Vocab, cfg seq2seq.Config) error {
	if path == "" {
		return tr.InitVars(nil)
	}
	table, found, err := data.LoadEmbedding(path, vocab, cfg.HiddenUnits, cfg.Seed)
	if err != nil {
		return err
	}
	log.Info("loaded embedding", "path", path, "found", found, "vocab", vocab.Size())
	return tr.InitVars(&table)
}

func resumeLatest(log logger.Logger, tr *train.Trainer, dir string) error {
	path, _, err := checkpoint.Latest(dir)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		log.Warn("no checkpoint to resume from, starting fresh", "save_dir", dir)
		return nil
	}
	if err != nil {
		return err
	}
	return tr.Resume(path)
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(os.Stderr) }),
	)
}
