// Package nn holds the layers the seq2seq model is assembled from: a named
// parameter registry, embeddings, dense projections, GRU/LSTM cells, cell
// stacks, a dynamic RNN driver and Bahdanau attention.
package nn

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/tensor"
)

// Initializer fills a freshly allocated parameter.
type Initializer func(m *tensor.Mat, rng *rand.Rand)

// GlorotUniform draws kernels from U(-l, l) with l = sqrt(6/(fanIn+fanOut)).
func GlorotUniform() Initializer {
	return func(m *tensor.Mat, rng *rand.Rand) {
		tensor.FillUniform(m, rng, tensor.GlorotLimit(m.R, m.C))
	}
}

// Uniform draws from U(-limit, limit).
func Uniform(limit float32) Initializer {
	return func(m *tensor.Mat, rng *rand.Rand) {
		tensor.FillUniform(m, rng, limit)
	}
}

// Constant fills every element with v.
func Constant(v float32) Initializer {
	return func(m *tensor.Mat, _ *rand.Rand) {
		for i := range m.Data {
			m.Data[i] = v
		}
	}
}

// Zeros leaves the parameter at zero.
func Zeros() Initializer {
	return func(*tensor.Mat, *rand.Rand) {}
}

// Param is a named variable of the model.
type Param struct {
	Name      string
	Var       *autograd.Var
	Trainable bool
}

// Params is an ordered registry of model variables.  Registration order is
// stable, which keeps checkpoints and optimiser slots aligned.
type Params struct {
	rng    *rand.Rand
	list   []*Param
	byName map[string]*Param
}

// NewParams returns an empty registry whose initialisers draw from seed.
func NewParams(seed int64) *Params {
	return &Params{
		rng:    rand.New(rand.NewSource(seed)),
		byName: make(map[string]*Param),
	}
}

// Add registers a new r x c variable.  Names must be unique.
func (p *Params) Add(name string, r, c int, init Initializer, trainable bool) *autograd.Var {
	if _, ok := p.byName[name]; ok {
		panic(fmt.Sprintf("nn: duplicate parameter %q", name))
	}
	m := tensor.NewMat(r, c)
	if init != nil {
		init(&m, p.rng)
	}
	v := autograd.NewParam(m)
	v.SetRequiresGrad(trainable)
	param := &Param{Name: name, Var: v, Trainable: trainable}
	p.list = append(p.list, param)
	p.byName[name] = param
	return v
}

// Get looks a parameter up by name.
func (p *Params) Get(name string) (*Param, bool) {
	param, ok := p.byName[name]
	return param, ok
}

// All returns every parameter in registration order.
func (p *Params) All() []*Param {
	return p.list
}

// Trainable returns the variables updated by the optimiser, in registration
// order.
func (p *Params) Trainable() []*autograd.Var {
	out := make([]*autograd.Var, 0, len(p.list))
	for _, param := range p.list {
		if param.Trainable {
			out = append(out, param.Var)
		}
	}
	return out
}

// ZeroGrad clears the gradients of every parameter.
func (p *Params) ZeroGrad() {
	for _, param := range p.list {
		param.Var.ZeroGrad()
	}
}

// Count returns the number of scalar values, optionally only trainable ones.
func (p *Params) Count(trainableOnly bool) int {
	n := 0
	for _, param := range p.list {
		if trainableOnly && !param.Trainable {
			continue
		}
		n += len(param.Var.Value.Data)
	}
	return n
}

// scope joins name components with '/'.
func scope(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "/")
}
