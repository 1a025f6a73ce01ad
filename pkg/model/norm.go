package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"seq2seq/pkg/tensor"
)

// LayerNorm implements layer normalization with learnable scale and shift.
//
// Formula:
//
//	mean = mean(x, dim=-1)
//	var = var(x, dim=-1)   (population variance)
//	x_norm = (x - mean) / sqrt(var + eps)
//	output = x_norm * scale + shift
type LayerNorm struct {
	Scale *tensor.Tensor // (emb_dim,) - gamma parameter
	Shift *tensor.Tensor // (emb_dim,) - beta parameter
	Eps   float64        // Small constant for numerical stability
}

// NewLayerNorm creates a new LayerNorm layer with scale=1 and shift=0.
func NewLayerNorm(embDim int, eps float64) *LayerNorm {
	return &LayerNorm{
		Scale: tensor.Full([]int{embDim}, 1),
		Shift: tensor.NewTensor([]int{embDim}),
		Eps:   eps,
	}
}

// Forward applies layer normalization to the input.
//
// Input shape: (batch, seq, emb_dim) or any shape where last dim is emb_dim
// Output shape: same as input
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply LayerNorm to 0D tensor")
	}

	dim := x.Shape[len(x.Shape)-1]
	if dim != len(ln.Scale.Data) {
		return nil, fmt.Errorf("input last dimension %d doesn't match LayerNorm dimension %d",
			dim, len(ln.Scale.Data))
	}

	result := tensor.NewTensor(x.Shape)
	if dim == 0 {
		return result, nil
	}
	for off := 0; off < len(x.Data); off += dim {
		row := x.Data[off : off+dim]
		mean, variance := stat.PopMeanVariance(row, nil)
		invStd := 1 / math.Sqrt(variance+ln.Eps)

		out := result.Data[off : off+dim]
		for i, v := range row {
			out[i] = (v-mean)*invStd*ln.Scale.Data[i] + ln.Shift.Data[i]
		}
	}

	return result, nil
}
