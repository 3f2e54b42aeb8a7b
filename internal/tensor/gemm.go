package tensor

import (
	"fmt"
	"runtime"
)

// Rows below this threshold are computed on the calling goroutine; the
// hand-off to the pool costs more than it saves for the small batches used
// during decoding.
const minParallelWork = 1 << 14

type gemmTask struct {
	C, A, B        *Mat
	transA, transB bool
	alpha, beta    float32
	rs, re         int
	done           chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, size)
	}
	for w := 0; w < size; w++ {
		go func() {
			for task := range p.tasks {
				gemmRangeRows(task.C, task.A, task.B, task.transA, task.transB, task.alpha, task.beta, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var gemmWorkPool = newGemmPool()

// Gemm computes C = alpha*op(A)*op(B) + beta*C where op transposes its
// argument when the matching flag is set.  Output rows are split across the
// shared worker pool when the product is large enough.
func Gemm(C, A, B *Mat, transA, transB bool, alpha, beta float32) {
	m, k := A.R, A.C
	if transA {
		m, k = A.C, A.R
	}
	kb, n := B.R, B.C
	if transB {
		kb, n = B.C, B.R
	}
	if k != kb || C.R != m || C.C != n {
		panic(fmt.Sprintf("gemm: dimension mismatch op(A)=[%d x %d] op(B)=[%d x %d] C=[%d x %d]", m, k, kb, n, C.R, C.C))
	}
	if m == 0 || n == 0 {
		return
	}

	workers := gemmWorkPool.size
	if m*n*max(k, 1) < minParallelWork || workers <= 1 {
		gemmRangeRows(C, A, B, transA, transB, alpha, beta, 0, m)
		return
	}
	if workers > m {
		workers = m
	}

	chunk := (m + workers - 1) / workers
	done := <-gemmWorkPool.doneSlots
	sent := 0
	for rs := 0; rs < m; rs += chunk {
		re := min(rs+chunk, m)
		gemmWorkPool.tasks <- gemmTask{
			C: C, A: A, B: B,
			transA: transA, transB: transB,
			alpha: alpha, beta: beta,
			rs: rs, re: re,
			done: done,
		}
		sent++
	}
	for i := 0; i < sent; i++ {
		<-done
	}
	gemmWorkPool.doneSlots <- done
}

// MatMul returns a freshly allocated A*B.
func MatMul(A, B *Mat) Mat {
	C := NewMat(A.R, B.C)
	Gemm(&C, A, B, false, false, 1, 0)
	return C
}

// gemmRangeRows computes rows [rs, re) of C.
func gemmRangeRows(C, A, B *Mat, transA, transB bool, alpha, beta float32, rs, re int) {
	n := C.C
	for i := rs; i < re; i++ {
		row := C.Row(i)
		switch beta {
		case 0:
			clear(row)
		case 1:
		default:
			for j := range row {
				row[j] *= beta
			}
		}
	}

	switch {
	case !transA && !transB:
		// C[i,:] += alpha * sum_k A[i,k] * B[k,:]
		for i := rs; i < re; i++ {
			crow := C.Row(i)
			arow := A.Row(i)
			for kk, a := range arow {
				if a == 0 {
					continue
				}
				s := alpha * a
				brow := B.Row(kk)
				for j := 0; j < n; j++ {
					crow[j] += s * brow[j]
				}
			}
		}
	case !transA && transB:
		// C[i,j] += alpha * dot(A[i,:], B[j,:])
		for i := rs; i < re; i++ {
			crow := C.Row(i)
			arow := A.Row(i)
			for j := 0; j < n; j++ {
				crow[j] += alpha * Dot(arow, B.Row(j))
			}
		}
	case transA && !transB:
		// C[i,:] += alpha * sum_k A[k,i] * B[k,:]
		for kk := 0; kk < A.R; kk++ {
			arow := A.Row(kk)
			brow := B.Row(kk)
			for i := rs; i < re; i++ {
				a := arow[i]
				if a == 0 {
					continue
				}
				s := alpha * a
				crow := C.Row(i)
				for j := 0; j < n; j++ {
					crow[j] += s * brow[j]
				}
			}
		}
	default:
		// C[i,j] += alpha * sum_k A[k,i] * B[j,k]
		for i := rs; i < re; i++ {
			crow := C.Row(i)
			for j := 0; j < n; j++ {
				brow := B.Row(j)
				var sum float32
				for kk := 0; kk < A.R; kk++ {
					sum += A.At(kk, i) * brow[kk]
				}
				crow[j] += alpha * sum
			}
		}
	}
}
