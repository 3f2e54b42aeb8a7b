package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, -1}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-6 {
		t.Fatalf("expected sum 1, got %f", sum)
	}
	if Argmax(x) != 2 {
		t.Fatalf("expected argmax 2, got %d", Argmax(x))
	}
}

func TestSoftmaxMaskedPositions(t *testing.T) {
	t.Parallel()
	inf := float32(math.Inf(-1))
	x := []float32{0, 0, inf}
	Softmax(x)
	if x[2] != 0 || math.Abs(float64(x[0]-0.5)) > 1e-6 {
		t.Fatalf("expected [0.5 0.5 0], got %v", x)
	}

	all := []float32{inf, inf}
	Softmax(all)
	if all[0] != 0 || all[1] != 0 {
		t.Fatalf("expected zeros for fully masked input, got %v", all)
	}
}

func TestLogSoftmaxMatchesSoftmax(t *testing.T) {
	t.Parallel()
	x := []float32{0.3, -1.2, 2.5, 0}
	p := append([]float32(nil), x...)
	Softmax(p)
	lp := make([]float32, len(x))
	LogSoftmax(lp, x)
	for i := range x {
		if d := math.Abs(math.Exp(float64(lp[i])) - float64(p[i])); d > 1e-6 {
			t.Fatalf("index %d: exp(logsoftmax)=%f softmax=%f", i, math.Exp(float64(lp[i])), p[i])
		}
	}
}

func TestArgmaxEmpty(t *testing.T) {
	t.Parallel()
	if got := Argmax(nil); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	m := NewMatFromData(1, 2, []float32{1, 2})
	c := m.Clone()
	c.Set(0, 0, 9)
	if m.At(0, 0) != 1 {
		t.Fatalf("clone shares storage with source")
	}
}

func TestFillUniformBounds(t *testing.T) {
	t.Parallel()
	m := NewMat(20, 20)
	limit := GlorotLimit(20, 20)
	FillUniform(&m, rand.New(rand.NewSource(1)), limit)
	for _, v := range m.Data {
		if v < -limit || v > limit {
			t.Fatalf("value %f outside [-%f, %f]", v, limit, limit)
		}
	}
}

func TestAddScaledAndSumSquares(t *testing.T) {
	t.Parallel()
	a := NewMatFromData(1, 3, []float32{1, 2, 3})
	b := NewMatFromData(1, 3, []float32{1, 1, 1})
	a.AddScaled(&b, -1)
	if got := a.SumSquares(); got != 5 {
		t.Fatalf("expected 5, got %f", got)
	}
}
