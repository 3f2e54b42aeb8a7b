package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively.  Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C).  Data holds the flattened matrix values.
//
// Every activation, weight and gradient in seqgen is a Mat: a batch of vectors
// is a Mat with one row per batch entry.  Out‑of‑range indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.  The stride is set to the
// number of columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Row returns a view of the i‑th row of the matrix as a slice.  The slice
// has length equal to the number of columns.  Modifications to the returned
// slice update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// At returns the element at row i, column j.
func (m *Mat) At(i, j int) float32 {
	return m.Data[i*m.Stride+j]
}

// Set stores v at row i, column j.
func (m *Mat) Set(i, j int, v float32) {
	m.Data[i*m.Stride+j] = v
}

// Shape returns the dimensions as a two element slice, the layout used by
// checkpoint headers.
func (m *Mat) Shape() []int {
	return []int{m.R, m.C}
}

// SameShape reports whether m and o have identical dimensions.
func (m *Mat) SameShape(o *Mat) bool {
	return m.R == o.R && m.C == o.C
}

// Clone returns a deep, contiguous copy of m.
func (m *Mat) Clone() Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// Zero sets every element to 0.
func (m *Mat) Zero() {
	if m.Stride == m.C {
		clear(m.Data[:m.R*m.C])
		return
	}
	for i := 0; i < m.R; i++ {
		clear(m.Row(i))
	}
}

// CopyFrom copies src into m.  Both matrices must have the same shape.
func (m *Mat) CopyFrom(src *Mat) {
	if !m.SameShape(src) {
		panic(fmt.Sprintf("copy: shape mismatch [%d x %d] <- [%d x %d]", m.R, m.C, src.R, src.C))
	}
	for i := 0; i < m.R; i++ {
		copy(m.Row(i), src.Row(i))
	}
}

// AddScaled performs m += alpha*src element-wise.
func (m *Mat) AddScaled(src *Mat, alpha float32) {
	if !m.SameShape(src) {
		panic(fmt.Sprintf("add: shape mismatch [%d x %d] += [%d x %d]", m.R, m.C, src.R, src.C))
	}
	for i := 0; i < m.R; i++ {
		dst := m.Row(i)
		s := src.Row(i)
		for j := range dst {
			dst[j] += alpha * s[j]
		}
	}
}

// SumSquares returns the sum of squared elements, accumulated in float64.
func (m *Mat) SumSquares() float64 {
	var sum float64
	for i := 0; i < m.R; i++ {
		for _, v := range m.Row(i) {
			sum += float64(v) * float64(v)
		}
	}
	return sum
}

// FillRand fills the matrix with reproducible pseudo‑random values.  A small
// range around zero is used to avoid overflow in accumulations.  The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}

// FillUniform draws every element from U(-limit, limit).
func FillUniform(m *Mat, rng *rand.Rand, limit float32) {
	for i := range m.Data {
		m.Data[i] = (rng.Float32()*2 - 1) * limit
	}
}

// GlorotLimit is the uniform Glorot/Xavier bound for a fanIn x fanOut kernel.
func GlorotLimit(fanIn, fanOut int) float32 {
	return float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
}
