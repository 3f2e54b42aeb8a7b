package tensor

import (
	"math"
	"testing"
)

func transpose(m *Mat) Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		for j := 0; j < m.C; j++ {
			out.Set(j, i, m.At(i, j))
		}
	}
	return out
}

func gemmNaive(C, A, B *Mat) {
	for i := 0; i < A.R; i++ {
		for j := 0; j < B.C; j++ {
			var sum float32
			for kk := 0; kk < A.C; kk++ {
				sum += A.Row(i)[kk] * B.Row(kk)[j]
			}
			C.Row(i)[j] = sum
		}
	}
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmMatchesNaive(t *testing.T) {
	A := NewMat(50, 70)
	B := NewMat(70, 45)
	C0 := NewMat(50, 45)
	C1 := NewMat(50, 45)

	FillRand(&A, 1)
	FillRand(&B, 2)

	gemmNaive(&C0, &A, &B)
	Gemm(&C1, &A, &B, false, false, 1, 0)

	if maxAbs := maxAbsDiff(C0.Data, C1.Data); maxAbs > 1e-5 {
		t.Fatalf("max abs diff %g", maxAbs)
	}
}

func TestGemmTransposes(t *testing.T) {
	t.Parallel()
	A := NewMat(9, 13)
	B := NewMat(13, 7)
	FillRand(&A, 3)
	FillRand(&B, 4)

	want := NewMat(9, 7)
	gemmNaive(&want, &A, &B)

	At := transpose(&A)
	Bt := transpose(&B)

	cases := []struct {
		name           string
		a, b           *Mat
		transA, transB bool
	}{
		{"NN", &A, &B, false, false},
		{"NT", &A, &Bt, false, true},
		{"TN", &At, &B, true, false},
		{"TT", &At, &Bt, true, true},
	}
	for _, tc := range cases {
		got := NewMat(9, 7)
		Gemm(&got, tc.a, tc.b, tc.transA, tc.transB, 1, 0)
		if d := maxAbsDiff(want.Data, got.Data); d > 1e-6 {
			t.Fatalf("%s: max abs diff %g", tc.name, d)
		}
	}
}

func TestGemmAlphaBeta(t *testing.T) {
	t.Parallel()
	A := NewMatFromData(2, 2, []float32{1, 2, 3, 4})
	B := NewMatFromData(2, 2, []float32{1, 0, 0, 1})
	C := NewMatFromData(2, 2, []float32{10, 10, 10, 10})

	Gemm(&C, &A, &B, false, false, 2, 0.5)

	want := []float32{7, 9, 11, 13}
	for i, v := range want {
		if C.Data[i] != v {
			t.Fatalf("expected %v, got %v", want, C.Data)
		}
	}
}

func TestGemmDimensionMismatchPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on dimension mismatch")
		}
	}()
	A := NewMat(2, 3)
	B := NewMat(2, 3)
	C := NewMat(2, 3)
	Gemm(&C, &A, &B, false, false, 1, 0)
}

func TestGemmLargeUsesPool(t *testing.T) {
	t.Parallel()
	A := NewMat(128, 96)
	B := NewMat(96, 64)
	FillRand(&A, 5)
	FillRand(&B, 6)

	want := NewMat(128, 64)
	gemmNaive(&want, &A, &B)
	got := MatMul(&A, &B)

	if d := maxAbsDiff(want.Data, got.Data); d > 1e-5 {
		t.Fatalf("max abs diff %g", d)
	}
}
