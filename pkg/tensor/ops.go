package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, scalar float64) *Tensor {
	result := t.Clone()
	floats.Scale(scalar, result.Data)
	return result
}

// Scale multiplies all elements by a scalar (tensor method version).
func (t *Tensor) Scale(s float64) *Tensor {
	return Scale(t, s)
}

// Softmax applies a numerically stable softmax along the last dimension.
// Every row of the result sums to 1.
func Softmax(t *Tensor) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply softmax to 0D tensor")
	}
	result := NewTensor(t.Shape)
	rowLen := t.Shape[len(t.Shape)-1]
	if rowLen == 0 {
		return result, nil
	}

	for off := 0; off < len(t.Data); off += rowLen {
		src := t.Data[off : off+rowLen]
		dst := result.Data[off : off+rowLen]

		// Subtract the row max before exponentiating.
		maxVal := floats.Max(src)
		for i, v := range src {
			dst[i] = math.Exp(v - maxVal)
		}
		floats.Scale(1/floats.Sum(dst), dst)
	}

	return result, nil
}

// ReLU applies max(0, x) element-wise.
func (t *Tensor) ReLU() *Tensor {
	result := NewTensor(t.Shape)
	for i, v := range t.Data {
		if v > 0 {
			result.Data[i] = v
		}
	}
	return result
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	if a.ShapeEquals(b) {
		result := a.Clone()
		floats.Add(result.Data, b.Data)
		return result, nil
	}
	return elementWiseOp(a, b, func(x, y float64) float64 { return x + y })
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	if a.ShapeEquals(b) {
		result := a.Clone()
		floats.Mul(result.Data, b.Data)
		return result, nil
	}
	return elementWiseOp(a, b, func(x, y float64) float64 { return x * y })
}

// MaskedFill returns a copy of t where every element whose broadcast mask
// value is zero is replaced by value. The mask must broadcast to t's shape
// without growing it.
func MaskedFill(t, mask *Tensor, value float64) (*Tensor, error) {
	outShape, err := broadcastShapes(t.Shape, mask.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast mask %v to %v: %w", mask.Shape, t.Shape, err)
	}
	if !ShapeIs(t, outShape...) {
		return nil, fmt.Errorf("mask %v would broadcast %v to %v", mask.Shape, t.Shape, outShape)
	}

	result := t.Clone()
	maskStrides := broadcastStrides(mask.Shape, outShape)
	forEachBroadcast(outShape, maskStrides, func(out, in int) {
		if mask.Data[in] == 0 {
			result.Data[out] = value
		}
	})
	return result, nil
}

// CreateCausalMask creates a lower triangular causal mask for attention.
// Shape: (seq_len, seq_len), with 1s on and below the diagonal and 0s above.
func CreateCausalMask(seqLen int) *Tensor {
	mask := NewTensor([]int{seqLen, seqLen})
	for i := 0; i < seqLen; i++ {
		for j := 0; j <= i; j++ {
			mask.Data[i*seqLen+j] = 1
		}
	}
	return mask
}

// elementWiseOp performs an element-wise operation with broadcasting
func elementWiseOp(a, b *Tensor, op func(float64, float64) float64) (*Tensor, error) {
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(outShape)
	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)

	// Map each output position back to its b offset first, then walk a.
	bIdx := make([]int, len(result.Data))
	forEachBroadcast(outShape, bStrides, func(out, in int) { bIdx[out] = in })
	forEachBroadcast(outShape, aStrides, func(out, in int) {
		result.Data[out] = op(a.Data[in], b.Data[bIdx[out]])
	})

	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		if dimA == 1 {
			result[maxLen-1-i] = dimB
		} else {
			result[maxLen-1-i] = dimA
		}
	}

	return result, nil
}

// broadcastStrides returns strides of inShape aligned to outShape, with a
// zero stride on every axis that is broadcast.
func broadcastStrides(inShape, outShape []int) []int {
	strides := make([]int, len(outShape))
	diff := len(outShape) - len(inShape)
	stride := 1
	for i := len(inShape) - 1; i >= 0; i-- {
		if inShape[i] != 1 {
			strides[i+diff] = stride
		}
		stride *= inShape[i]
	}
	return strides
}

// forEachBroadcast visits every output offset in row-major order together
// with the matching input offset under the given broadcast strides.
func forEachBroadcast(outShape, inStrides []int, fn func(out, in int)) {
	size := shapeSize(outShape)
	if size == 0 {
		return
	}
	rank := len(outShape)
	index := make([]int, rank)
	in := 0
	for out := 0; out < size; out++ {
		fn(out, in)
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			in += inStrides[axis]
			if index[axis] < outShape[axis] {
				break
			}
			in -= index[axis] * inStrides[axis]
			index[axis] = 0
		}
	}
}
