package optim

import (
	"math"

	"github.com/samcharles93/seqgen/internal/autograd"
)

// slots holds per-parameter accumulators keyed by the parameter itself.
type slots map[*autograd.Var][][]float32

func (s slots) get(p *autograd.Var, n int, init float32) [][]float32 {
	if acc, ok := s[p]; ok {
		return acc
	}
	acc := make([][]float32, n)
	for i := range acc {
		acc[i] = make([]float32, len(p.Value.Data))
		if init != 0 {
			for j := range acc[i] {
				acc[i][j] = init
			}
		}
	}
	s[p] = acc
	return acc
}

type sgd struct{}

// NewSGD returns plain gradient descent: p -= lr * g.
func NewSGD() Optimizer { return sgd{} }

func (sgd) Name() string { return SGD }
func (sgd) Reset()       {}

func (sgd) Apply(params []*autograd.Var, lr float32) {
	for _, p := range params {
		if p.Grad.Data == nil {
			continue
		}
		p.Value.AddScaled(&p.Grad, -lr)
	}
}

type adam struct {
	beta1, beta2, eps float64
	t                 int
	state             slots
}

// NewAdam returns Adam with bias-corrected moment estimates.
func NewAdam(beta1, beta2, eps float64) Optimizer {
	return &adam{beta1: beta1, beta2: beta2, eps: eps, state: slots{}}
}

func (o *adam) Name() string { return Adam }

func (o *adam) Reset() {
	o.t = 0
	o.state = slots{}
}

func (o *adam) Apply(params []*autograd.Var, lr float32) {
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	b1, b2 := float32(o.beta1), float32(o.beta2)
	for _, p := range params {
		if p.Grad.Data == nil {
			continue
		}
		acc := o.state.get(p, 2, 0)
		m, v := acc[0], acc[1]
		for i, g := range p.Grad.Data {
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			mHat := float64(m[i]) / c1
			vHat := float64(v[i]) / c2
			p.Value.Data[i] -= lr * float32(mHat/(math.Sqrt(vHat)+o.eps))
		}
	}
}

type adadelta struct {
	rho, eps float64
	state    slots
}

// NewAdadelta returns Adadelta.  The learning rate scales the adaptive step.
func NewAdadelta(rho, eps float64) Optimizer {
	return &adadelta{rho: rho, eps: eps, state: slots{}}
}

func (o *adadelta) Name() string { return Adadelta }
func (o *adadelta) Reset()       { o.state = slots{} }

func (o *adadelta) Apply(params []*autograd.Var, lr float32) {
	for _, p := range params {
		if p.Grad.Data == nil {
			continue
		}
		acc := o.state.get(p, 2, 0)
		accGrad, accUpdate := acc[0], acc[1]
		for i, g := range p.Grad.Data {
			gg := float64(g)
			accGrad[i] = float32(o.rho*float64(accGrad[i]) + (1-o.rho)*gg*gg)
			update := math.Sqrt(float64(accUpdate[i])+o.eps) / math.Sqrt(float64(accGrad[i])+o.eps) * gg
			accUpdate[i] = float32(o.rho*float64(accUpdate[i]) + (1-o.rho)*update*update)
			p.Value.Data[i] -= lr * float32(update)
		}
	}
}

type rmsprop struct {
	decay, eps float64
	state      slots
}

// NewRMSProp returns RMSProp without momentum.  The mean square starts at
// one.
func NewRMSProp(decay, eps float64) Optimizer {
	return &rmsprop{decay: decay, eps: eps, state: slots{}}
}

func (o *rmsprop) Name() string { return RMSProp }
func (o *rmsprop) Reset()       { o.state = slots{} }

func (o *rmsprop) Apply(params []*autograd.Var, lr float32) {
	for _, p := range params {
		if p.Grad.Data == nil {
			continue
		}
		ms := o.state.get(p, 1, 1)[0]
		for i, g := range p.Grad.Data {
			gg := float64(g)
			ms[i] = float32(o.decay*float64(ms[i]) + (1-o.decay)*gg*gg)
			p.Value.Data[i] -= lr * float32(gg/math.Sqrt(float64(ms[i])+o.eps))
		}
	}
}
