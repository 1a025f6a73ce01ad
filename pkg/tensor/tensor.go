// Package tensor provides the dense tensor type and the numeric operations
// used by the encoder-decoder transformer.
//
// Tensors are row-major float64 arrays. Every operation returns a new tensor;
// only View and Reshape share storage with their input.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in a flat slice with shape information for indexing.
type Tensor struct {
	Data    []float64 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, heads, seq, dim])
	Strides []int     // Precomputed strides for indexing
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	return &Tensor{
		Data:    make([]float64, shapeSize(shape)),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor from a copy of data with the given shape.
// Returns an error if data size doesn't match the shape.
func FromSlice(data []float64, shape []int) (*Tensor, error) {
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
	}
	if expected := shapeSize(shape); len(data) != expected {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expected)
	}

	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)

	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}, nil
}

// Full creates a tensor of the given shape with every element set to value.
func Full(shape []int, value float64) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// View returns a new tensor with a different shape but sharing the same underlying data.
// Returns an error if total size doesn't match.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
	}
	if newSize := shapeSize(newShape); newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// It panics if the sizes differ; use View to get an error instead.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose exchanges two dimensions of the tensor, copying the data into
// the new layout.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	rank := len(t.Shape)
	if dim1 < 0 || dim1 >= rank || dim2 < 0 || dim2 >= rank {
		return nil, fmt.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, rank)
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := NewTensor(newShape)

	// Walk the destination in order; the source stride for each destination
	// axis is the original stride with dim1 and dim2 exchanged.
	srcStrides := copyShape(t.Strides)
	srcStrides[dim1], srcStrides[dim2] = srcStrides[dim2], srcStrides[dim1]

	index := make([]int, rank)
	srcIdx := 0
	for dstIdx := range result.Data {
		result.Data[dstIdx] = t.Data[srcIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			srcIdx += srcStrides[axis]
			if index[axis] < newShape[axis] {
				break
			}
			srcIdx -= index[axis] * srcStrides[axis]
			index[axis] = 0
		}
	}

	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return shapeSize(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := 0; i < len(t.Shape); i++ {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices []int) float64 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(indices []int, value float64) {
	t.Data[t.FlatIndex(indices)] = value
}

// Row returns the contiguous slice holding the last-axis vector selected by
// the leading indices. The slice aliases the tensor's storage.
func (t *Tensor) Row(leading ...int) []float64 {
	if len(leading) != len(t.Shape)-1 {
		panic(fmt.Sprintf("row needs %d leading indices, got %d", len(t.Shape)-1, len(leading)))
	}
	index := make([]int, len(t.Shape))
	copy(index, leading)
	start := t.FlatIndex(index)
	return t.Data[start : start+t.Shape[len(t.Shape)-1]]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	result := NewTensor(t.Shape)
	copy(result.Data, t.Data)
	return result
}

// ShapeString returns a string representation of the shape.
func (t *Tensor) ShapeString() string {
	return fmt.Sprintf("%v", t.Shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float64) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(t.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return ShapeIs(other, t.Shape...)
}

// ShapeIs reports whether t has exactly the given dimensions.
func ShapeIs(t *Tensor, dims ...int) bool {
	if len(t.Shape) != len(dims) {
		return false
	}
	for i := range dims {
		if t.Shape[i] != dims[i] {
			return false
		}
	}
	return true
}

// AllFinite reports whether no element is NaN or infinite.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String returns a string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", dim))
	}
	sb.WriteString("]")

	if t.Size() == 0 {
		return sb.String() + ": []"
	}
	sb.WriteString(": ")
	sb.WriteString(formatData(t.Shape, t.Data, 0))

	return sb.String()
}

// formatData recursively formats tensor data, eliding long axes.
func formatData(shape []int, data []float64, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", data[offset])
	}

	var sb strings.Builder
	sb.WriteString("[")
	if len(shape) == 1 {
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%.4g", data[offset+i]))
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
		sb.WriteString("]")
		return sb.String()
	}

	subSize := shapeSize(shape[1:])
	for i := 0; i < shape[0] && i < 3; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatData(shape[1:], data, offset+i*subSize))
	}
	if shape[0] > 3 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

func shapeSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// copyShape creates a copy of a shape slice
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
