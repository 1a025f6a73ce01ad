// Package attention implements multi-head scaled dot-product attention and
// the transformer block built around it.
package attention

import (
	"errors"
	"fmt"
	"math"

	"seq2seq/pkg/tensor"
)

// MaskSentinel replaces attention energies at masked positions. It is finite
// so that a row with every key masked still softmaxes without NaN.
const MaskSentinel = -1e20

// ErrHeadsNotDivisible is returned when the embedding size cannot be split
// evenly across the attention heads.
var ErrHeadsNotDivisible = errors.New("embed size must be divisible by heads")

// MultiHeadAttentionConfig holds configuration for SelfAttention.
type MultiHeadAttentionConfig struct {
	EmbedSize int
	NumHeads  int
}

// SelfAttention implements multi-head scaled dot-product attention over a
// (value, key, query) triple.
//
// Architecture:
//   - Separate value, key and query projections (embed -> embed, with bias)
//   - Each projection is split into NumHeads slices of HeadDim
//   - Per-head energy Q·Kᵀ, masked, scaled by 1/sqrt(EmbedSize), softmaxed
//   - Heads are concatenated and passed through an output projection
//
// The energy scale uses the full embedding size rather than HeadDim.
type SelfAttention struct {
	EmbedSize int
	NumHeads  int
	HeadDim   int
	Scale     float64 // 1/sqrt(EmbedSize)

	WValue *tensor.Tensor // (embed, embed)
	BValue *tensor.Tensor // (embed,)
	WKey   *tensor.Tensor // (embed, embed)
	BKey   *tensor.Tensor // (embed,)
	WQuery *tensor.Tensor // (embed, embed)
	BQuery *tensor.Tensor // (embed,)
	WOut   *tensor.Tensor // (embed, embed)
	BOut   *tensor.Tensor // (embed,)

	// Backend executes the per-head products. The zero value runs serially.
	Backend tensor.Backend
}

// KeyValue holds projected keys and values split into heads, each shaped
// (batch, heads, len, head_dim).
type KeyValue struct {
	Key   *tensor.Tensor
	Value *tensor.Tensor
}

// Len returns the number of key positions.
func (kv *KeyValue) Len() int {
	return kv.Key.Shape[2]
}

// NewSelfAttention creates a new attention layer with zeroed weights.
// It fails with ErrHeadsNotDivisible before allocating anything when
// EmbedSize is not a multiple of NumHeads.
func NewSelfAttention(config MultiHeadAttentionConfig) (*SelfAttention, error) {
	if config.EmbedSize <= 0 || config.NumHeads <= 0 {
		return nil, fmt.Errorf("embed size (%d) and heads (%d) must be positive",
			config.EmbedSize, config.NumHeads)
	}
	if config.EmbedSize%config.NumHeads != 0 {
		return nil, fmt.Errorf("%w: embed size %d, heads %d",
			ErrHeadsNotDivisible, config.EmbedSize, config.NumHeads)
	}

	e := config.EmbedSize
	return &SelfAttention{
		EmbedSize: e,
		NumHeads:  config.NumHeads,
		HeadDim:   e / config.NumHeads,
		Scale:     1 / math.Sqrt(float64(e)),
		WValue:    tensor.NewTensor([]int{e, e}),
		BValue:    tensor.NewTensor([]int{e}),
		WKey:      tensor.NewTensor([]int{e, e}),
		BKey:      tensor.NewTensor([]int{e}),
		WQuery:    tensor.NewTensor([]int{e, e}),
		BQuery:    tensor.NewTensor([]int{e}),
		WOut:      tensor.NewTensor([]int{e, e}),
		BOut:      tensor.NewTensor([]int{e}),
	}, nil
}

// Forward computes multi-head attention.
//
// Input shapes:
//   - values, keys: (batch, key_len, embed)
//   - query: (batch, query_len, embed)
//   - mask: nil, or broadcastable to (batch, heads, query_len, key_len)
//     with 0 marking positions that may not be attended to
//
// Output shape: (batch, query_len, embed)
func (a *SelfAttention) Forward(values, keys, query, mask *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := a.ForwardWithWeights(values, keys, query, mask)
	return out, err
}

// ForwardWithWeights is Forward that also returns the attention
// probabilities, shape (batch, heads, query_len, key_len).
func (a *SelfAttention) ForwardWithWeights(values, keys, query, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	kv, err := a.ProjectKeyValue(values, keys)
	if err != nil {
		return nil, nil, err
	}
	return a.ForwardProjected(kv, query, mask)
}

// ProjectKeyValue applies the value and key projections and splits them
// into heads. The result depends only on values and keys, so it can be
// computed once and reused for many queries.
func (a *SelfAttention) ProjectKeyValue(values, keys *tensor.Tensor) (*KeyValue, error) {
	if err := a.checkInput("values", values); err != nil {
		return nil, err
	}
	if err := a.checkInput("keys", keys); err != nil {
		return nil, err
	}
	if values.Shape[0] != keys.Shape[0] || values.Shape[1] != keys.Shape[1] {
		return nil, fmt.Errorf("values %v and keys %v must have the same batch and length",
			values.Shape, keys.Shape)
	}

	V, err := a.Backend.Linear(values, a.WValue, a.BValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute V: %w", err)
	}
	K, err := a.Backend.Linear(keys, a.WKey, a.BKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute K: %w", err)
	}

	// (batch, len, embed) -> (batch, heads, len, head_dim)
	if V, err = a.splitHeads(V); err != nil {
		return nil, fmt.Errorf("failed to split V: %w", err)
	}
	if K, err = a.splitHeads(K); err != nil {
		return nil, fmt.Errorf("failed to split K: %w", err)
	}
	return &KeyValue{Key: K, Value: V}, nil
}

// ForwardProjected runs attention for query against already projected keys
// and values. It returns the projected output and the attention weights.
func (a *SelfAttention) ForwardProjected(kv *KeyValue, query, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := a.checkInput("query", query); err != nil {
		return nil, nil, err
	}
	batchSize, queryLen := query.Shape[0], query.Shape[1]
	if kv.Key.Shape[0] != batchSize {
		return nil, nil, fmt.Errorf("query batch %d does not match key batch %d", batchSize, kv.Key.Shape[0])
	}

	Q, err := a.Backend.Linear(query, a.WQuery, a.BQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute Q: %w", err)
	}
	if Q, err = a.splitHeads(Q); err != nil {
		return nil, nil, fmt.Errorf("failed to split Q: %w", err)
	}

	// energy: (batch, heads, query_len, key_len)
	energy, err := a.Backend.MatmulT(Q, kv.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention energy: %w", err)
	}

	// Masking happens before scaling, on the raw energy.
	if mask != nil {
		energy, err = tensor.MaskedFill(energy, mask, MaskSentinel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to apply attention mask: %w", err)
		}
	}

	weights, err := tensor.Softmax(energy.Scale(a.Scale))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply softmax: %w", err)
	}

	// (batch, heads, query_len, head_dim)
	context, err := a.Backend.Matmul(weights, kv.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply attention to V: %w", err)
	}

	// Concatenate heads: (batch, query_len, heads, head_dim) -> (batch, query_len, embed)
	context, err = context.Transpose(1, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge heads: %w", err)
	}
	context = context.Reshape([]int{batchSize, queryLen, a.EmbedSize})

	output, err := a.Backend.Linear(context, a.WOut, a.BOut)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply output projection: %w", err)
	}

	return output, weights, nil
}

func (a *SelfAttention) splitHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, seqLen := x.Shape[0], x.Shape[1]
	return x.Reshape([]int{batchSize, seqLen, a.NumHeads, a.HeadDim}).Transpose(1, 2)
}

func (a *SelfAttention) checkInput(name string, x *tensor.Tensor) error {
	if x == nil {
		return fmt.Errorf("%s tensor is nil", name)
	}
	if len(x.Shape) != 3 {
		return fmt.Errorf("expected 3D %s (batch, len, embed), got %dD with shape %v",
			name, len(x.Shape), x.Shape)
	}
	if x.Shape[2] != a.EmbedSize {
		return fmt.Errorf("%s dimension %d doesn't match embed size %d", name, x.Shape[2], a.EmbedSize)
	}
	return nil
}
