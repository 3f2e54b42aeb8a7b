package generate

import (
	"math"
	"testing"
)

func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	logits := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := range 20 {
		a, b := s1.Sample(logits), s2.Sample(logits)
		if a != b {
			t.Fatalf("draw %d: expected identical samples, got %d vs %d", i, a, b)
		}
	}
}

func TestSamplerSingleCandidateIsArgmax(t *testing.T) {
	t.Parallel()
	logits := []float32{-1, 5, 3, 7, 2}
	cfgs := []SamplerConfig{
		{Temperature: 3, TopK: 1},
		{Temperature: 0.1, TopK: 1},
		{Temperature: 1, TopP: 1e-6},
	}
	for _, cfg := range cfgs {
		s := NewSampler(cfg)
		for range 20 {
			if idx := s.Sample(logits); idx != 3 {
				t.Fatalf("%+v: expected index 3, got %d", cfg, idx)
			}
		}
	}
	if idx := NewSampler(SamplerConfig{TopK: 1}).Sample([]float32{2, 5, 5}); idx != 1 {
		t.Fatalf("expected the lower id on a tie, got %d", idx)
	}
}

func TestSamplerNonPositiveTemperatureIsOne(t *testing.T) {
	t.Parallel()
	logits := []float32{0.3, 0.1, 0.5, 0.2}
	a := NewSampler(SamplerConfig{Seed: 9, Temperature: 0})
	b := NewSampler(SamplerConfig{Seed: 9, Temperature: 1})
	for i := range 50 {
		if x, y := a.Sample(logits), b.Sample(logits); x != y {
			t.Fatalf("draw %d: expected %d, got %d", i, y, x)
		}
	}
}

func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	logits := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1, TopK: 5, TopP: 0.5})
	for range 50 {
		if idx := s.Sample(logits); idx != 0 {
			t.Fatalf("expected index 0, got %d", idx)
		}
	}
}

func TestSamplerTopKExcludesTail(t *testing.T) {
	t.Parallel()
	logits := []float32{1, 1.1, 0.9, -3, -4}
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 2, TopK: 3})
	seen := map[int]bool{}
	for range 500 {
		idx := s.Sample(logits)
		if idx > 2 {
			t.Fatalf("expected only the top 3 indices, got %d", idx)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all of the top 3 to be drawn, got %v", seen)
	}
}

func TestSamplerSkipsMaskedLogits(t *testing.T) {
	t.Parallel()
	inf := float32(math.Inf(-1))
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1, TopK: 10})
	for range 50 {
		if idx := s.Sample([]float32{inf, 0.5, inf, 0.2}); idx != 1 && idx != 3 {
			t.Fatalf("expected an unmasked index, got %d", idx)
		}
	}
}
