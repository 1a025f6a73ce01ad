package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"seq2seq/pkg/tensor"
)

// TestNewLayerNorm tests the creation of LayerNorm.
func TestNewLayerNorm(t *testing.T) {
	embDim := 64
	ln := NewLayerNorm(embDim, 1e-5)

	if ln.Eps != 1e-5 {
		t.Errorf("Expected Eps=1e-5, got %v", ln.Eps)
	}
	if len(ln.Scale.Data) != embDim || len(ln.Shift.Data) != embDim {
		t.Fatalf("Expected scale/shift length %d, got %d/%d", embDim, len(ln.Scale.Data), len(ln.Shift.Data))
	}
	for i := range ln.Scale.Data {
		if ln.Scale.Data[i] != 1 {
			t.Errorf("Scale[%d] = %v, expected 1", i, ln.Scale.Data[i])
		}
		if ln.Shift.Data[i] != 0 {
			t.Errorf("Shift[%d] = %v, expected 0", i, ln.Shift.Data[i])
		}
	}
}

// TestLayerNorm_Forward checks each row is normalized to mean 0, variance 1.
func TestLayerNorm_Forward(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)

	// Position 0: [1, 2, 3, 4]
	// Position 1: [2, 4, 6, 8]
	input, err := tensor.FromSlice([]float64{1, 2, 3, 4, 2, 4, 6, 8}, []int{1, 2, 4})
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !output.ShapeEquals(input) {
		t.Fatalf("Expected shape %v, got %v", input.Shape, output.Shape)
	}

	for s := 0; s < 2; s++ {
		mean, variance := stat.PopMeanVariance(output.Row(0, s), nil)
		if math.Abs(mean) > 1e-9 {
			t.Errorf("position %d: mean = %v, expected 0", s, mean)
		}
		if math.Abs(variance-1) > 1e-4 {
			t.Errorf("position %d: variance = %v, expected 1", s, variance)
		}
	}

	// Scaling a row doesn't change its normalized form (up to eps).
	for d := 0; d < 4; d++ {
		if math.Abs(output.Data[d]-output.Data[4+d]) > 1e-5 {
			t.Errorf("dim %d: rows differ: %v vs %v", d, output.Data[d], output.Data[4+d])
		}
	}
}

func TestLayerNorm_ScaleShift(t *testing.T) {
	ln := NewLayerNorm(2, 0)
	ln.Scale.Data[0], ln.Scale.Data[1] = 2, 3
	ln.Shift.Data[0], ln.Shift.Data[1] = 10, -10

	input, _ := tensor.FromSlice([]float64{-1, 1}, []int{1, 2})
	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Normalized row is [-1, 1].
	want := []float64{8, -7}
	for i := range want {
		if math.Abs(output.Data[i]-want[i]) > 1e-12 {
			t.Errorf("output[%d] = %v, expected %v", i, output.Data[i], want[i])
		}
	}
}

func TestLayerNorm_ConstantRow(t *testing.T) {
	ln := NewLayerNorm(3, 1e-5)
	input := tensor.Full([]int{2, 3}, 7)

	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for i, v := range output.Data {
		if v != 0 {
			t.Errorf("output[%d] = %v, expected 0", i, v)
		}
	}
}

func TestLayerNorm_DimensionMismatch(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)
	if _, err := ln.Forward(tensor.NewTensor([]int{2, 3})); err == nil {
		t.Error("Expected error for mismatched last dimension")
	}
}
