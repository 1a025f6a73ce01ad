package tensor

import (
	"math"
	"testing"
)

// TestAdd tests element-wise addition with and without broadcasting
func TestAdd(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		aShape   []int
		bShape   []int
		expected []float64
		outShape []int
	}{
		{
			name: "same_shape",
			a:    []float64{1, 2, 3, 4}, aShape: []int{2, 2},
			b: []float64{10, 20, 30, 40}, bShape: []int{2, 2},
			expected: []float64{11, 22, 33, 44}, outShape: []int{2, 2},
		},
		{
			name: "broadcast_row",
			a:    []float64{1, 2, 3, 4, 5, 6}, aShape: []int{2, 3},
			b: []float64{10, 20, 30}, bShape: []int{3},
			expected: []float64{11, 22, 33, 14, 25, 36}, outShape: []int{2, 3},
		},
		{
			name: "broadcast_batch",
			a:    []float64{1, 2, 3, 4}, aShape: []int{2, 1, 2},
			b: []float64{10, 20, 30, 40, 50, 60}, bShape: []int{3, 2},
			expected: []float64{11, 22, 31, 42, 51, 62, 13, 24, 33, 44, 53, 64}, outShape: []int{2, 3, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := FromSlice(tt.a, tt.aShape)
			b, _ := FromSlice(tt.b, tt.bShape)
			result, err := Add(a, b)
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if !shapeEquals(result.Shape, tt.outShape) {
				t.Fatalf("Expected shape %v, got %v", tt.outShape, result.Shape)
			}
			for i := range tt.expected {
				if result.Data[i] != tt.expected[i] {
					t.Errorf("Index %d: expected %v, got %v", i, tt.expected[i], result.Data[i])
				}
			}
		})
	}

	if _, err := Add(NewTensor([]int{2, 3}), NewTensor([]int{4})); err == nil {
		t.Error("Expected error for incompatible shapes")
	}
}

// TestMul tests element-wise multiplication
func TestMul(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2, 3, 4}, []int{2, 2})
	b, _ := FromSlice([]float64{2, 3}, []int{2})
	result, err := Mul(a, b)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	expected := []float64{2, 6, 6, 12}
	for i := range expected {
		if result.Data[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
		}
	}
}

// TestSoftmax tests that rows sum to one and preserve ordering
func TestSoftmax(t *testing.T) {
	input, _ := FromSlice([]float64{1, 2, 3, -1, 0, 1}, []int{2, 3})

	result, err := Softmax(input)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}

	for r := 0; r < 2; r++ {
		row := result.Row(r)
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if !floatEquals(sum, 1, 1e-12) {
			t.Errorf("Row %d sums to %v, expected 1", r, sum)
		}
		if !(row[0] < row[1] && row[1] < row[2]) {
			t.Errorf("Row %d lost ordering: %v", r, row)
		}
	}

	// Softmax is shift invariant, so both rows are identical.
	if !floatEquals(result.Data[0], result.Data[3], 1e-12) {
		t.Errorf("Expected shift invariance, got %v and %v", result.Data[0], result.Data[3])
	}
}

// TestSoftmaxNumericalStability tests large magnitudes and the mask sentinel
func TestSoftmaxNumericalStability(t *testing.T) {
	input, _ := FromSlice([]float64{1000, 1001, -1e20, -1e20, -1e20, -1e20}, []int{2, 3})
	result, err := Softmax(input)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	if !result.AllFinite() {
		t.Fatalf("Expected finite output, got %v", result.Data)
	}
	if result.Data[2] != 0 {
		t.Errorf("Expected sentinel entry to get zero probability, got %v", result.Data[2])
	}
	// A row made only of sentinels degrades to a uniform distribution.
	for i := 3; i < 6; i++ {
		if !floatEquals(result.Data[i], 1.0/3.0, 1e-12) {
			t.Errorf("Index %d: expected 1/3, got %v", i, result.Data[i])
		}
	}
}

// TestScale tests scalar multiplication leaves the input untouched
func TestScale(t *testing.T) {
	input, _ := FromSlice([]float64{1, -2, 3}, []int{3})
	result := input.Scale(0.5)
	expected := []float64{0.5, -1, 1.5}
	for i := range expected {
		if result.Data[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
		}
	}
	if input.Data[0] != 1 {
		t.Error("Scale must not modify its input")
	}
}

// TestReLU tests the rectifier
func TestReLU(t *testing.T) {
	input, _ := FromSlice([]float64{-2, -0.5, 0, 0.5, 2}, []int{5})
	result := input.ReLU()
	expected := []float64{0, 0, 0, 0.5, 2}
	for i := range expected {
		if result.Data[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
		}
	}
}

// TestMaskedFill tests broadcasting a padding-style mask over scores
func TestMaskedFill(t *testing.T) {
	// scores: (batch=2, heads=1, q=2, k=3), mask: (batch, 1, 1, k)
	scores := Full([]int{2, 1, 2, 3}, 1)
	mask, _ := FromSlice([]float64{1, 1, 0, 1, 0, 0}, []int{2, 1, 1, 3})

	result, err := MaskedFill(scores, mask, -1e20)
	if err != nil {
		t.Fatalf("MaskedFill failed: %v", err)
	}
	expected := []float64{
		1, 1, -1e20, 1, 1, -1e20,
		1, -1e20, -1e20, 1, -1e20, -1e20,
	}
	for i := range expected {
		if result.Data[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
		}
	}
	if scores.Data[2] != 1 {
		t.Error("MaskedFill must not modify its input")
	}

	t.Run("mask_may_not_grow_input", func(t *testing.T) {
		big := NewTensor([]int{2, 2, 3})
		if _, err := MaskedFill(NewTensor([]int{2, 3}), big, 0); err == nil {
			t.Error("Expected error when mask broadcasts beyond the input shape")
		}
	})
}

// TestCreateCausalMask tests the lower-triangular layout
func TestCreateCausalMask(t *testing.T) {
	mask := CreateCausalMask(4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if j <= i {
				want = 1
			}
			if got := mask.Get([]int{i, j}); got != want {
				t.Errorf("mask[%d][%d] = %v, expected %v", i, j, got, want)
			}
		}
	}
}

func BenchmarkSoftmax(b *testing.B) {
	input := NewTensor([]int{2, 8, 64, 64})
	for i := range input.Data {
		input.Data[i] = math.Sin(float64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Softmax(input); err != nil {
			b.Fatal(err)
		}
	}
}
