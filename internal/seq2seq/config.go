// Package seq2seq assembles the attentional encoder-decoder.  Both sides
// share one embedding table.  The top decoder layer attends over the encoder
// outputs before the vocabulary projection.
//
// A Model is built for one Mode.  In train mode Forward runs teacher-forced
// decoding and the masked sequence loss; in decode mode Decode runs greedy or
// beam search decoding from the start token until the end token.
package seq2seq

import (
	"errors"
	"fmt"

	"github.com/samcharles93/seqgen/internal/nn"
)

// Mode selects which half of the graph a Model serves.
type Mode string

const (
	ModeTrain  Mode = "train"
	ModeDecode Mode = "decode"
)

var (
	// ErrUnknownMode is returned for a mode other than "train" or "decode".
	ErrUnknownMode = errors.New("unknown mode")
	// ErrWrongMode is returned when an operation of one mode is called on a
	// model built for the other.
	ErrWrongMode = errors.New("operation not available in this mode")
	// ErrInvalidConfig wraps every other configuration error.
	ErrInvalidConfig = errors.New("invalid model config")
	// ErrInvalidBatch is returned for ragged or out-of-range batches.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrDecodeLimit is returned for decode options beyond MaxBeamWidth,
	// MaxDecodeLength or the vocabulary size.
	ErrDecodeLimit = errors.New("decode options out of range")
)

// Upper bounds on decoding.  Beam search holds width² candidates and width
// copies of the attention memory per source row.
const (
	MaxBeamWidth    = 64
	MaxDecodeLength = 1024
)

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTrain, ModeDecode:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Reserved token ids used by DefaultConfig.  They match the layout of
// data.Vocab.
const (
	PadID = 0
	GoID  = 1
	EOSID = 2
)

// Config holds the model hyperparameters.  It is stored in checkpoint
// metadata so a decode-mode model can be rebuilt with the same shapes.
type Config struct {
	VocabSize       int     `yaml:"vocab_size" json:"vocab_size"`
	HiddenUnits     int     `yaml:"hidden_units" json:"hidden_units"`
	Depth           int     `yaml:"depth" json:"depth"`
	CellType        string  `yaml:"cell_type" json:"cell_type"`
	BatchSize       int     `yaml:"batch_size" json:"batch_size"`
	Optimizer       string  `yaml:"optimizer" json:"optimizer"`
	LearningRate    float32 `yaml:"learning_rate" json:"learning_rate"`
	MaxGradientNorm float32 `yaml:"max_gradient_norm" json:"max_gradient_norm"`
	Mode            Mode    `yaml:"mode" json:"mode"`

	StartToken int `yaml:"start_token" json:"start_token"`
	EndToken   int `yaml:"end_token" json:"end_token"`
	PadToken   int `yaml:"pad_token" json:"pad_token"`

	UseBeamSearch  bool `yaml:"use_beam_search" json:"use_beam_search"`
	BeamWidth      int  `yaml:"beam_width" json:"beam_width"`
	MaxDecodeSteps int  `yaml:"max_decode_steps" json:"max_decode_steps"`

	TrainEmbedding bool  `yaml:"train_embedding" json:"train_embedding"`
	Seed           int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the stock hyperparameters.
func DefaultConfig() Config {
	return Config{
		VocabSize:       6000,
		HiddenUnits:     128,
		Depth:           4,
		CellType:        nn.CellLSTM,
		BatchSize:       64,
		Optimizer:       "adam",
		LearningRate:    0.1,
		MaxGradientNorm: 10,
		Mode:            ModeTrain,
		StartToken:      GoID,
		EndToken:        EOSID,
		PadToken:        PadID,
		UseBeamSearch:   false,
		BeamWidth:       5,
		MaxDecodeSteps:  64,
		Seed:            1,
	}
}

// Validate checks the configuration.  Cell type and mode errors wrap
// nn.ErrUnknownCellType and ErrUnknownMode; everything else wraps
// ErrInvalidConfig.
func (c Config) Validate() error {
	if err := nn.ValidateCellType(c.CellType); err != nil {
		return err
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	switch {
	case c.VocabSize < 1:
		return fmt.Errorf("%w: vocab_size must be positive, got %d", ErrInvalidConfig, c.VocabSize)
	case c.HiddenUnits < 1:
		return fmt.Errorf("%w: hidden_units must be positive, got %d", ErrInvalidConfig, c.HiddenUnits)
	case c.Depth < 1:
		return fmt.Errorf("%w: depth must be positive, got %d", ErrInvalidConfig, c.Depth)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.MaxGradientNorm < 0:
		return fmt.Errorf("%w: max_gradient_norm must not be negative", ErrInvalidConfig)
	case c.UseBeamSearch && (c.BeamWidth < 1 || c.BeamWidth > MaxBeamWidth):
		return fmt.Errorf("%w: beam_width must be in [1, %d], got %d", ErrInvalidConfig, MaxBeamWidth, c.BeamWidth)
	case c.MaxDecodeSteps < 1 || c.MaxDecodeSteps > MaxDecodeLength:
		return fmt.Errorf("%w: max_decode_steps must be in [1, %d], got %d", ErrInvalidConfig, MaxDecodeLength, c.MaxDecodeSteps)
	}
	tokens := []struct {
		name string
		id   int
	}{
		{"start_token", c.StartToken},
		{"end_token", c.EndToken},
		{"pad_token", c.PadToken},
	}
	for _, tok := range tokens {
		if tok.id < 0 || tok.id >= c.VocabSize {
			return fmt.Errorf("%w: %s %d outside vocabulary of %d", ErrInvalidConfig, tok.name, tok.id, c.VocabSize)
		}
	}
	return nil
}
