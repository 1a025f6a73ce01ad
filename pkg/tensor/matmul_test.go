package tensor

import (
	"math"
	"testing"
)

// naiveMatmul is the reference triple loop for a single (m,n)x(n,p) product.
func naiveMatmul(a, b []float64, m, n, p int) []float64 {
	out := make([]float64, m*p)
	for i := 0; i < m; i++ {
		for k := 0; k < p; k++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += a[i*n+j] * b[j*p+k]
			}
			out[i*p+k] = sum
		}
	}
	return out
}

func patterned(shape []int, seed float64) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = math.Sin(seed + float64(i)*0.37)
	}
	return t
}

// TestMatMul tests 2D, batched and shared-operand products
func TestMatMul(t *testing.T) {
	t.Run("2D", func(t *testing.T) {
		a, _ := FromSlice([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
		b, _ := FromSlice([]float64{7, 8, 9, 10, 11, 12}, []int{3, 2})
		result, err := Matmul(a, b)
		if err != nil {
			t.Fatalf("Matmul failed: %v", err)
		}
		expected := []float64{58, 64, 139, 154}
		for i := range expected {
			if result.Data[i] != expected[i] {
				t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
			}
		}
	})

	t.Run("batched_4D", func(t *testing.T) {
		a := patterned([]int{2, 3, 4, 5}, 0)
		b := patterned([]int{2, 3, 5, 6}, 1)
		result, err := Matmul(a, b)
		if err != nil {
			t.Fatalf("Matmul failed: %v", err)
		}
		if !shapeEquals(result.Shape, []int{2, 3, 4, 6}) {
			t.Fatalf("Expected shape [2 3 4 6], got %v", result.Shape)
		}
		for s := 0; s < 6; s++ {
			want := naiveMatmul(a.Data[s*20:(s+1)*20], b.Data[s*30:(s+1)*30], 4, 5, 6)
			for i := range want {
				if !floatEquals(result.Data[s*24+i], want[i], 1e-12) {
					t.Fatalf("Slice %d index %d: expected %v, got %v", s, i, want[i], result.Data[s*24+i])
				}
			}
		}
	})

	t.Run("shared_right_operand", func(t *testing.T) {
		a := patterned([]int{2, 3, 4}, 0)
		w := patterned([]int{4, 5}, 2)
		result, err := Matmul(a, w)
		if err != nil {
			t.Fatalf("Matmul failed: %v", err)
		}
		want := naiveMatmul(a.Data, w.Data, 6, 4, 5)
		for i := range want {
			if !floatEquals(result.Data[i], want[i], 1e-12) {
				t.Fatalf("Index %d: expected %v, got %v", i, want[i], result.Data[i])
			}
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := Matmul(NewTensor([]int{2, 3}), NewTensor([]int{4, 2})); err == nil {
			t.Error("Expected inner dimension error")
		}
		if _, err := Matmul(NewTensor([]int{3}), NewTensor([]int{3, 2})); err == nil {
			t.Error("Expected rank error")
		}
		if _, err := Matmul(NewTensor([]int{2, 2, 3}), NewTensor([]int{3, 3, 2})); err == nil {
			t.Error("Expected batch dimension error")
		}
	})
}

// TestMatmulT tests the transposed right operand against an explicit transpose
func TestMatmulT(t *testing.T) {
	q := patterned([]int{2, 4, 3, 5}, 0)
	k := patterned([]int{2, 4, 7, 5}, 3)

	got, err := MatmulT(q, k)
	if err != nil {
		t.Fatalf("MatmulT failed: %v", err)
	}
	kt, _ := k.Transpose(2, 3)
	want, _ := Matmul(q, kt)
	if !got.Equals(want, 1e-12) {
		t.Error("MatmulT differs from Matmul with explicit transpose")
	}
	if !shapeEquals(got.Shape, []int{2, 4, 3, 7}) {
		t.Errorf("Expected shape [2 4 3 7], got %v", got.Shape)
	}
}

// TestLinear tests the fused projection with bias
func TestLinear(t *testing.T) {
	x, _ := FromSlice([]float64{1, 2, 3, 4}, []int{1, 2, 2})
	w, _ := FromSlice([]float64{1, 0, 1, 0, 1, 1}, []int{2, 3})
	bias, _ := FromSlice([]float64{0.5, -0.5, 0}, []int{3})

	result, err := Linear(x, w, bias)
	if err != nil {
		t.Fatalf("Linear failed: %v", err)
	}
	expected := []float64{1.5, 1.5, 3, 3.5, 3.5, 7}
	for i := range expected {
		if result.Data[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], result.Data[i])
		}
	}

	if _, err := Linear(x, w, NewTensor([]int{2})); err == nil {
		t.Error("Expected bias shape error")
	}
}

// TestBackend_ParallelMatchesSerial tests that worker fan-out is bit-identical
func TestBackend_ParallelMatchesSerial(t *testing.T) {
	a := patterned([]int{3, 8, 6, 16}, 0)
	b := patterned([]int{3, 8, 9, 16}, 5)

	serial, err := Serial.MatmulT(a, b)
	if err != nil {
		t.Fatalf("serial MatmulT failed: %v", err)
	}
	for _, workers := range []int{2, 4, 7, 64} {
		parallel, err := Backend{Workers: workers}.MatmulT(a, b)
		if err != nil {
			t.Fatalf("parallel MatmulT failed: %v", err)
		}
		if !parallel.Equals(serial, 0) {
			t.Errorf("Workers=%d: result differs from serial", workers)
		}
	}
}

func BenchmarkBackend_Matmul(b *testing.B) {
	x := patterned([]int{2, 8, 64, 64}, 0)
	y := patterned([]int{2, 8, 64, 64}, 1)
	for _, be := range []Backend{Serial, {Workers: 4}} {
		b.Run("workers", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := be.Matmul(x, y); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
