// Package optim implements the parameter update rules used in training and
// gradient clipping by global norm.
package optim

import (
	"math"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Name is the canonical optimiser name.
	Name() string
	// Apply performs one update with learning rate lr.  Parameters with no
	// gradient buffer are skipped.
	Apply(params []*autograd.Var, lr float32)
	// Reset drops accumulated slot state.
	Reset()
}

// Names of the optimisers known to ByName.
const (
	SGD      = "sgd"
	Adam     = "adam"
	Adadelta = "adadelta"
	RMSProp  = "rmsprop"
)

// KnownOptimizers maps every accepted name to a constructor with default
// hyperparameters.
var KnownOptimizers = map[string]func() Optimizer{
	SGD:      func() Optimizer { return NewSGD() },
	Adam:     func() Optimizer { return NewAdam(0.9, 0.999, 1e-8) },
	Adadelta: func() Optimizer { return NewAdadelta(0.95, 1e-8) },
	RMSProp:  func() Optimizer { return NewRMSProp(0.9, 1e-10) },
}

// Names returns the known optimiser names, sorted.
func Names() []string {
	names := make([]string, 0, len(KnownOptimizers))
	for n := range KnownOptimizers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ByName returns the optimiser for name, case-insensitively.  Unrecognised
// names fall back to plain gradient descent.
func ByName(name string) Optimizer {
	if ctor, ok := KnownOptimizers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ctor()
	}
	return NewSGD()
}

// GlobalNorm returns sqrt(sum of squared gradients) over params.
func GlobalNorm(params []*autograd.Var) float32 {
	var sum float64
	for _, p := range params {
		if p.Grad.Data != nil {
			sum += p.Grad.SumSquares()
		}
	}
	return float32(math.Sqrt(sum))
}

// ClipByGlobalNorm rescales every gradient by maxNorm/norm when the global
// norm exceeds maxNorm, and returns the norm measured before clipping.  A
// non-positive maxNorm disables clipping.
func ClipByGlobalNorm(params []*autograd.Var, maxNorm float32) float32 {
	norm := GlobalNorm(params)
	if maxNorm <= 0 || norm <= maxNorm || math.IsNaN(float64(norm)) {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		if p.Grad.Data != nil {
			tensor.Scale(p.Grad.Data, scale)
		}
	}
	return norm
}

// GlobalStep counts applied updates.  It is safe for concurrent reads while
// training runs.
type GlobalStep struct {
	n atomic.Int64
}

// Inc advances the step and returns the new value.
func (s *GlobalStep) Inc() int64 { return s.n.Add(1) }

// Load returns the current step.
func (s *GlobalStep) Load() int64 { return s.n.Load() }

// Store sets the step, used when resuming from a checkpoint.
func (s *GlobalStep) Store(v int64) { s.n.Store(v) }
