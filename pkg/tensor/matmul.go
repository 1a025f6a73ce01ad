package tensor

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Backend selects how batched matrix products are executed.
//
// Workers <= 1 runs every batch slice on the calling goroutine. Larger values
// fan the independent slices (batch and head axes) out over that many
// goroutines. Each slice is computed by exactly one goroutine, so results are
// identical to the serial path.
type Backend struct {
	Workers int
}

// Serial is the single-goroutine backend used by the package-level helpers.
var Serial = Backend{Workers: 1}

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// A 2D right operand is shared across every leading batch slice of a.
func Matmul(a, b *Tensor) (*Tensor, error) {
	return Serial.Matmul(a, b)
}

// MatmulT multiplies by the transpose of b's last two dimensions:
// (..., m, n) x (..., p, n) -> (..., m, p).
func MatmulT(a, b *Tensor) (*Tensor, error) {
	return Serial.MatmulT(a, b)
}

// Linear computes x @ weight + bias for x of shape (..., in), weight of
// shape (in, out) and bias of shape (out). A nil bias is skipped.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	return Serial.Linear(x, weight, bias)
}

// Matmul is the backend-specific form of the package-level Matmul.
func (be Backend) Matmul(a, b *Tensor) (*Tensor, error) {
	return be.matmul(a, b, false)
}

// MatmulT is the backend-specific form of the package-level MatmulT.
func (be Backend) MatmulT(a, b *Tensor) (*Tensor, error) {
	return be.matmul(a, b, true)
}

// Linear is the backend-specific form of the package-level Linear.
func (be Backend) Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("linear weight must be 2D, got shape %v", weight.Shape)
	}
	out, err := be.Matmul(x, weight)
	if err != nil {
		return nil, err
	}
	if bias == nil {
		return out, nil
	}

	outDim := weight.Shape[1]
	if !ShapeIs(bias, outDim) {
		return nil, fmt.Errorf("linear bias shape %v does not match output dimension %d", bias.Shape, outDim)
	}
	for off := 0; off < len(out.Data); off += outDim {
		floats.Add(out.Data[off:off+outDim], bias.Data)
	}
	return out, nil
}

func (be Backend) matmul(a, b *Tensor, transB bool) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	m, n := a.Shape[len(a.Shape)-2], a.Shape[len(a.Shape)-1]
	bRows, bCols := b.Shape[len(b.Shape)-2], b.Shape[len(b.Shape)-1]
	kB, p := bRows, bCols
	if transB {
		kB, p = bCols, bRows
	}
	if n != kB {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, n, kB)
	}

	batchDims := a.Shape[:len(a.Shape)-2]
	batch := shapeSize(batchDims)
	shared := len(b.Shape) == 2
	if !shared {
		bBatch := b.Shape[:len(b.Shape)-2]
		if len(bBatch) != len(batchDims) {
			return nil, fmt.Errorf("incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
		}
		for i := range bBatch {
			if bBatch[i] != batchDims[i] {
				return nil, fmt.Errorf("incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
			}
		}
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)

	// gonum rejects zero-sized matrices; the zero result is already correct.
	if result.Size() == 0 || n == 0 {
		return result, nil
	}

	if shared {
		// A shared right operand lets every batch row fold into one product.
		dst := mat.NewDense(batch*m, p, result.Data)
		dst.Mul(mat.NewDense(batch*m, n, a.Data), denseOperand(b.Data, bRows, bCols, transB))
		return result, nil
	}

	aSize, bSize, rSize := m*n, bRows*bCols, m*p
	be.parallelFor(batch, func(i int) {
		dst := mat.NewDense(m, p, result.Data[i*rSize:(i+1)*rSize])
		dst.Mul(
			mat.NewDense(m, n, a.Data[i*aSize:(i+1)*aSize]),
			denseOperand(b.Data[i*bSize:(i+1)*bSize], bRows, bCols, transB),
		)
	})
	return result, nil
}

func denseOperand(data []float64, rows, cols int, trans bool) mat.Matrix {
	d := mat.NewDense(rows, cols, data)
	if trans {
		return d.T()
	}
	return d
}

// parallelFor runs fn(i) for i in [0, n), splitting the range into
// contiguous chunks when more than one worker is configured.
func (be Backend) parallelFor(n int, fn func(i int)) {
	workers := be.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
