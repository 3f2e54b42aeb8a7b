package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqgen/internal/seq2seq"
)

var (
	saveDir    string
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "save-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding checkpoints, vocab.json and summaries",
			Sources:     cli.EnvVars(envSaveDir),
			Destination: &saveDir,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// modelFlags bind the hyperparameters of a new model into cfg.
func modelFlags(cfg *seq2seq.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "hidden-units",
			Usage:       "units per recurrent layer (also the embedding width)",
			Value:       cfg.HiddenUnits,
			Destination: &cfg.HiddenUnits,
		},
		&cli.IntFlag{
			Name:        "depth",
			Usage:       "number of stacked recurrent layers",
			Value:       cfg.Depth,
			Destination: &cfg.Depth,
		},
		&cli.StringFlag{
			Name:        "cell-type",
			Usage:       "recurrent cell (lstm, gru)",
			Value:       cfg.CellType,
			Destination: &cfg.CellType,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "examples per batch",
			Value:       cfg.BatchSize,
			Destination: &cfg.BatchSize,
		},
		&cli.StringFlag{
			Name:        "optimizer",
			Usage:       "update rule (adam, adadelta, rmsprop, sgd)",
			Value:       cfg.Optimizer,
			Destination: &cfg.Optimizer,
		},
		&cli.Float64Flag{
			Name:  "max-gradient-norm",
			Usage: "clip gradients to this global norm",
			Value: float64(cfg.MaxGradientNorm),
			Action: func(_ context.Context, _ *cli.Command, v float64) error {
				cfg.MaxGradientNorm = float32(v)
				return nil
			},
		},
		&cli.BoolFlag{
			Name:        "train-embedding",
			Usage:       "update the embedding table during training",
			Value:       cfg.TrainEmbedding,
			Destination: &cfg.TrainEmbedding,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for initialisation and shuffling",
			Value:       cfg.Seed,
			Destination: &cfg.Seed,
		},
	}
}

// decodeFlags bind the generation options shared by generate and serve.
func decodeFlags(o *decodeSettings) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"c"},
			Usage:       "checkpoint file, or a directory to take the latest from (default: save dir)",
			Destination: &o.checkpoint,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "vocabulary file (default: vocab.json next to the checkpoint)",
			Destination: &o.vocab,
		},
		&cli.IntFlag{
			Name:        "beam-width",
			Usage:       "beam width; 1 decodes greedily, 0 uses the model config",
			Destination: &o.beamWidth,
		},
		&cli.IntFlag{
			Name:        "max-steps",
			Usage:       "maximum generated tokens per line (0 uses the model config)",
			Destination: &o.maxSteps,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"t"},
			Usage:       "sampling temperature; 0 disables sampling",
			Destination: &o.temperature,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "sample from the k most likely tokens",
			Value:       40,
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold",
			Value:       1,
			Destination: &o.topP,
		},
		&cli.Int64Flag{
			Name:        "sample-seed",
			Usage:       "seed for sampled decoding",
			Destination: &o.seed,
		},
	}
}
