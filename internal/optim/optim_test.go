package optim

import (
	"math"
	"sync"
	"testing"

	"github.com/samcharles93/seqgen/internal/autograd"
	"github.com/samcharles93/seqgen/internal/tensor"
)

func param(values, grads []float32) *autograd.Var {
	p := autograd.NewParam(tensor.NewMatFromData(1, len(values), append([]float32(nil), values...)))
	copy(p.Grad.Data, grads)
	return p
}

func TestByName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"adam":     Adam,
		"ADAM":     Adam,
		"Adadelta": Adadelta,
		"rmsprop":  RMSProp,
		"sgd":      SGD,
		"momentum": SGD,
		"":         SGD,
	}
	for in, want := range tests {
		if got := ByName(in).Name(); got != want {
			t.Fatalf("ByName(%q): expected %s, got %s", in, want, got)
		}
	}
	if len(Names()) != 4 || Names()[0] != Adadelta {
		t.Fatalf("expected 4 sorted names, got %v", Names())
	}
}

func TestSGDStep(t *testing.T) {
	t.Parallel()
	p := param([]float32{1, 2}, []float32{0.5, -1})
	NewSGD().Apply([]*autograd.Var{p}, 0.1)
	want := []float32{0.95, 2.1}
	for i := range want {
		if math.Abs(float64(p.Value.Data[i]-want[i])) > 1e-6 {
			t.Fatalf("expected %v, got %v", want, p.Value.Data)
		}
	}
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	t.Parallel()
	// With bias correction the first Adam step is lr * sign(g).
	p := param([]float32{0, 0}, []float32{3, -0.01})
	NewAdam(0.9, 0.999, 1e-8).Apply([]*autograd.Var{p}, 0.1)
	if math.Abs(float64(p.Value.Data[0]+0.1)) > 1e-4 || math.Abs(float64(p.Value.Data[1]-0.1)) > 1e-4 {
		t.Fatalf("expected [-0.1 0.1], got %v", p.Value.Data)
	}
}

func TestOptimizersDescendQuadratic(t *testing.T) {
	t.Parallel()
	lrs := map[string]float32{SGD: 0.1, Adam: 0.1, Adadelta: 1, RMSProp: 0.01}
	for _, name := range Names() {
		opt := ByName(name)
		p := param([]float32{3}, nil)
		for step := 0; step < 200; step++ {
			// d/dx x^2 = 2x
			p.Grad.Data[0] = 2 * p.Value.Data[0]
			opt.Apply([]*autograd.Var{p}, lrs[name])
		}
		if math.Abs(float64(p.Value.Data[0])) >= 3 {
			t.Fatalf("%s: expected |x| to shrink from 3, got %f", name, p.Value.Data[0])
		}
	}
}

func TestApplySkipsFrozenParams(t *testing.T) {
	t.Parallel()
	frozen := autograd.NewParam(tensor.NewMatFromData(1, 1, []float32{7}))
	frozen.Grad = tensor.Mat{}
	for _, name := range Names() {
		ByName(name).Apply([]*autograd.Var{frozen}, 1)
		if frozen.Value.Data[0] != 7 {
			t.Fatalf("%s: expected frozen value to stay 7, got %f", name, frozen.Value.Data[0])
		}
	}
}

func TestClipByGlobalNorm(t *testing.T) {
	t.Parallel()
	a := param([]float32{0, 0}, []float32{3, 0})
	b := param([]float32{0}, []float32{4})
	params := []*autograd.Var{a, b}

	norm := ClipByGlobalNorm(params, 1)
	if math.Abs(float64(norm-5)) > 1e-6 {
		t.Fatalf("expected pre-clip norm 5, got %f", norm)
	}
	if after := GlobalNorm(params); math.Abs(float64(after-1)) > 1e-5 {
		t.Fatalf("expected clipped norm 1, got %f", after)
	}
	if math.Abs(float64(a.Grad.Data[0]-0.6)) > 1e-6 || math.Abs(float64(b.Grad.Data[0]-0.8)) > 1e-6 {
		t.Fatalf("expected direction preserved, got %v %v", a.Grad.Data, b.Grad.Data)
	}
}

func TestClipByGlobalNormBelowThreshold(t *testing.T) {
	t.Parallel()
	a := param([]float32{0}, []float32{0.5})
	ClipByGlobalNorm([]*autograd.Var{a}, 10)
	if a.Grad.Data[0] != 0.5 {
		t.Fatalf("expected gradient untouched, got %f", a.Grad.Data[0])
	}
}

func TestGlobalStepConcurrent(t *testing.T) {
	t.Parallel()
	var step GlobalStep
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 100; j++ {
				step.Inc()
			}
		})
	}
	wg.Wait()
	if step.Load() != 800 {
		t.Fatalf("expected 800, got %d", step.Load())
	}
	step.Store(5)
	if step.Inc() != 6 {
		t.Fatal("expected Inc after Store(5) to return 6")
	}
}
