package generate

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
)

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Seed int64
	// Temperature divides the logits.  Values <= 0 are treated as 1.
	Temperature float32
	// TopK keeps the k most likely tokens (default 40).
	TopK int
	// TopP keeps the shortest most-likely prefix of the shortlist whose
	// probability mass reaches TopP (default 1, no cut).
	TopP float32
}

type weightedID struct {
	id int
	w  float64
}

// Sampler draws token ids from decoder logits.  A Sampler is not safe for
// concurrent use; Generate builds one per call.
type Sampler struct {
	rng   *rand.Rand
	temp  float64
	topK  int
	topP  float64
	short []weightedID
}

func NewSampler(cfg SamplerConfig) *Sampler {
	s := &Sampler{
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		temp: float64(cfg.Temperature),
		topK: cfg.TopK,
		topP: float64(cfg.TopP),
	}
	if s.temp <= 0 {
		s.temp = 1
	}
	if s.topK <= 0 {
		s.topK = 40
	}
	if s.topP <= 0 || s.topP > 1 {
		s.topP = 1
	}
	return s
}

// Sample returns one index of logits.  Masked (-Inf) and NaN logits are
// never drawn.  Ties in the shortlist are ordered by id.
func (s *Sampler) Sample(logits []float32) int {
	s.short = s.short[:0]
	for id, l := range logits {
		v := float64(l)
		if math.IsInf(v, -1) || math.IsNaN(v) {
			continue
		}
		s.short = append(s.short, weightedID{id: id, w: v / s.temp})
	}
	if len(s.short) == 0 {
		return 0
	}
	slices.SortStableFunc(s.short, func(a, b weightedID) int { return cmp.Compare(b.w, a.w) })
	short := s.short[:min(s.topK, len(s.short))]
	if len(short) == 1 {
		return short[0].id
	}

	best := short[0].w
	var sum float64
	for i := range short {
		short[i].w = math.Exp(short[i].w - best)
		sum += short[i].w
	}
	if s.topP < 1 {
		var mass float64
		for i, c := range short {
			mass += c.w / sum
			if mass >= s.topP {
				short = short[:i+1]
				break
			}
		}
	}

	var kept float64
	for _, c := range short {
		kept += c.w
	}
	r := s.rng.Float64() * kept
	for _, c := range short {
		r -= c.w
		if r < 0 {
			return c.id
		}
	}
	return short[len(short)-1].id
}
