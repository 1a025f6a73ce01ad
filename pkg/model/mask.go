package model

import (
	"slices"

	"seq2seq/pkg/tensor"
)

// MakeSourceMask marks every source position whose id is not padIdx.
//
// src: (batch, src_len)
// output: (batch, 1, 1, src_len), 1 = attend, 0 = padding
func MakeSourceMask(src [][]int, padIdx int) (*tensor.Tensor, error) {
	batchSize, srcLen, err := batchShape(src)
	if err != nil {
		return nil, err
	}

	mask := tensor.NewTensor([]int{batchSize, 1, 1, srcLen})
	for b, row := range src {
		for s, id := range row {
			if id != padIdx {
				mask.Data[b*srcLen+s] = 1
			}
		}
	}
	return mask, nil
}

// MakeTargetMask builds the causal mask for target self-attention.
//
// trg: (batch, trg_len)
// output: (batch, 1, trg_len, trg_len), lower triangular ones
//
// Target padding is not excluded; only future positions are masked.
func MakeTargetMask(trg [][]int) (*tensor.Tensor, error) {
	batchSize, trgLen, err := batchShape(trg)
	if err != nil {
		return nil, err
	}

	causal := tensor.CreateCausalMask(trgLen)
	return tensor.FromSlice(slices.Repeat(causal.Data, batchSize), []int{batchSize, 1, trgLen, trgLen})
}
