package attention

import (
	"fmt"

	"seq2seq/pkg/tensor"
)

// KVCache stores projected self-attention keys and values for incremental
// decoding. Each step appends the projections of the new positions only;
// the earlier positions are never recomputed.
//
// Shapes:
//   - Key, Value: (batch, heads, max_length, head_dim), filled up to CurrentPos
type KVCache struct {
	Key        *tensor.Tensor
	Value      *tensor.Tensor
	CurrentPos int // next position to write (0 = empty)
	MaxLength  int
	batchSize  int
	numHeads   int
	headDim    int
}

// NewKVCache creates an empty cache with room for maxLength positions.
func NewKVCache(batchSize, numHeads, maxLength, headDim int) *KVCache {
	cacheShape := []int{batchSize, numHeads, maxLength, headDim}
	return &KVCache{
		Key:       tensor.NewTensor(cacheShape),
		Value:     tensor.NewTensor(cacheShape),
		MaxLength: maxLength,
		batchSize: batchSize,
		numHeads:  numHeads,
		headDim:   headDim,
	}
}

// Update appends kv, shaped (batch, heads, new_len, head_dim), and returns
// every cached position as a compact KeyValue of length CurrentPos.
func (c *KVCache) Update(kv *KeyValue) (*KeyValue, error) {
	newK, newV := kv.Key, kv.Value
	if len(newK.Shape) != 4 || !newK.ShapeEquals(newV) {
		return nil, fmt.Errorf("expected matching 4D key and value, got K=%v, V=%v",
			newK.Shape, newV.Shape)
	}

	batchSize, numHeads, newLen, headDim := newK.Shape[0], newK.Shape[1], newK.Shape[2], newK.Shape[3]
	if batchSize != c.batchSize || numHeads != c.numHeads || headDim != c.headDim {
		return nil, fmt.Errorf("shape %v doesn't match cache (batch=%d, heads=%d, head_dim=%d)",
			newK.Shape, c.batchSize, c.numHeads, c.headDim)
	}
	if c.CurrentPos+newLen > c.MaxLength {
		return nil, fmt.Errorf("cache overflow: cannot add %d positions at position %d (max %d)",
			newLen, c.CurrentPos, c.MaxLength)
	}

	// Each (batch, head) pair owns a contiguous run of positions.
	run := newLen * headDim
	for bh := 0; bh < batchSize*numHeads; bh++ {
		dst := (bh*c.MaxLength + c.CurrentPos) * headDim
		copy(c.Key.Data[dst:dst+run], newK.Data[bh*run:(bh+1)*run])
		copy(c.Value.Data[dst:dst+run], newV.Data[bh*run:(bh+1)*run])
	}
	c.CurrentPos += newLen

	return c.Cached(), nil
}

// Cached returns the filled prefix of the cache.
func (c *KVCache) Cached() *KeyValue {
	return &KeyValue{
		Key:   c.prefix(c.Key),
		Value: c.prefix(c.Value),
	}
}

// prefix copies the first CurrentPos positions of t for each (batch, head).
func (c *KVCache) prefix(t *tensor.Tensor) *tensor.Tensor {
	out := tensor.NewTensor([]int{c.batchSize, c.numHeads, c.CurrentPos, c.headDim})
	run := c.CurrentPos * c.headDim
	for bh := 0; bh < c.batchSize*c.numHeads; bh++ {
		src := bh * c.MaxLength * c.headDim
		copy(out.Data[bh*run:(bh+1)*run], t.Data[src:src+run])
	}
	return out
}

