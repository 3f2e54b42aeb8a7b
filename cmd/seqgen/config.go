package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/seqgen/internal/seq2seq"
	"github.com/samcharles93/seqgen/internal/train"
)

// Config represents the seqgen configuration file (~/.config/seqgen/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	SaveDir   string `yaml:"save_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Model
	HiddenUnits     *int     `yaml:"hidden_units"`
	Depth           *int     `yaml:"depth"`
	CellType        string   `yaml:"cell_type"`
	BatchSize       *int     `yaml:"batch_size"`
	Optimizer       string   `yaml:"optimizer"`
	MaxGradientNorm *float64 `yaml:"max_gradient_norm"`

	// Training
	Epochs          *int     `yaml:"epochs"`
	LearningRate    *float64 `yaml:"learning_rate"`
	DecayRate       *float64 `yaml:"decay_rate"`
	KeepCheckpoints *int     `yaml:"keep_checkpoints"`

	// Generation
	BeamWidth   *int     `yaml:"beam_width"`
	MaxSteps    *int     `yaml:"max_steps"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int     `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// fileConfig is loaded by the root Before hook.
var fileConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "seqgen", "config.yaml")
}

// LoadConfig reads the config file at path.  A missing file yields a zero
// Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig applies config file defaults to the root flags when the
// corresponding CLI flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.SaveDir != "" && !c.IsSet("save-dir") {
		saveDir = cfg.SaveDir
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyModelConfig(c *cli.Command, cfg Config, m *seq2seq.Config) {
	if cfg.HiddenUnits != nil && !c.IsSet("hidden-units") {
		m.HiddenUnits = *cfg.HiddenUnits
	}
	if cfg.Depth != nil && !c.IsSet("depth") {
		m.Depth = *cfg.Depth
	}
	if cfg.CellType != "" && !c.IsSet("cell-type") {
		m.CellType = cfg.CellType
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		m.BatchSize = *cfg.BatchSize
	}
	if cfg.Optimizer != "" && !c.IsSet("optimizer") {
		m.Optimizer = cfg.Optimizer
	}
	if cfg.MaxGradientNorm != nil && !c.IsSet("max-gradient-norm") {
		m.MaxGradientNorm = float32(*cfg.MaxGradientNorm)
	}
}

func applyTrainConfig(c *cli.Command, cfg Config, epochs *int, lr, decay *float64, keep *int) {
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		*epochs = *cfg.Epochs
	}
	if cfg.LearningRate != nil && !c.IsSet("learning-rate") {
		*lr = *cfg.LearningRate
	}
	if cfg.DecayRate != nil && !c.IsSet("decay-rate") {
		*decay = *cfg.DecayRate
	}
	if cfg.KeepCheckpoints != nil && !c.IsSet("keep") {
		*keep = *cfg.KeepCheckpoints
	}
}

func applyDecodeConfig(c *cli.Command, cfg Config, o *decodeSettings) {
	if cfg.BeamWidth != nil && !c.IsSet("beam-width") {
		o.beamWidth = *cfg.BeamWidth
	}
	if cfg.MaxSteps != nil && !c.IsSet("max-steps") {
		o.maxSteps = *cfg.MaxSteps
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") && !c.IsSet("t") {
		o.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		o.topP = *cfg.TopP
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// trainOptionsFrom converts flag values into train.Options.
func trainOptionsFrom(epochs int, lr, decay float64, keep int) train.Options {
	opts := train.DefaultOptions()
	opts.Epochs = epochs
	opts.LearningRate = float32(lr)
	opts.DecayRate = float32(decay)
	opts.KeepCheckpoints = keep
	return opts
}
