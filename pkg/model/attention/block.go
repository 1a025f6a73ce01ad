package attention

import (
	"fmt"

	"seq2seq/pkg/tensor"
)

// FeedForward is an interface for feed-forward layers
type FeedForward interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// LayerNorm is an interface for layer normalization
type LayerNorm interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// TransformerBlock wraps attention with a position-wise feed-forward
// sublayer, residual connections and normalization.
//
// Architecture (post-norm):
//  1. a = Attn(value, key, query, mask)
//  2. x = Dropout(Norm1(a + query))
//  3. f = FF(x)
//  4. out = Dropout(Norm2(f + x))
//
// The block serves as the encoder layer and as the cross-attention half of
// each decoder layer.
type TransformerBlock struct {
	Attn    *SelfAttention
	FF      FeedForward
	Norm1   LayerNorm // after attention
	Norm2   LayerNorm // after feed-forward
	Dropout *tensor.Dropout
}

// NewTransformerBlock creates a new transformer block.
func NewTransformerBlock(attn *SelfAttention, ff FeedForward, norm1, norm2 LayerNorm, dropout *tensor.Dropout) *TransformerBlock {
	return &TransformerBlock{
		Attn:    attn,
		FF:      ff,
		Norm1:   norm1,
		Norm2:   norm2,
		Dropout: dropout,
	}
}

// Forward computes one transformer block.
//
// Input shapes:
//   - value, key: (batch, key_len, embed)
//   - query: (batch, query_len, embed)
//   - mask: nil, or broadcastable to (batch, heads, query_len, key_len)
//   - training: if true, apply dropout
//
// Output shape: same as query
func (b *TransformerBlock) Forward(value, key, query, mask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	attnOut, err := b.Attn.Forward(value, key, query, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention: %w", err)
	}
	return b.feedForward(attnOut, query, training)
}

// ForwardProjected is Forward with the value and key projections already
// applied, as returned by Attn.ProjectKeyValue.
func (b *TransformerBlock) ForwardProjected(kv *KeyValue, query, mask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	attnOut, _, err := b.Attn.ForwardProjected(kv, query, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention: %w", err)
	}
	return b.feedForward(attnOut, query, training)
}

// feedForward applies both residual/norm steps around the FF sublayer.
func (b *TransformerBlock) feedForward(attnOut, query *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	x, err := tensor.Add(attnOut, query)
	if err != nil {
		return nil, fmt.Errorf("failed to add attention residual: %w", err)
	}
	x, err = b.Norm1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm1: %w", err)
	}
	x = b.Dropout.Forward(x, training)

	ffOut, err := b.FF.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feed-forward: %w", err)
	}

	out, err := tensor.Add(ffOut, x)
	if err != nil {
		return nil, fmt.Errorf("failed to add feed-forward residual: %w", err)
	}
	out, err = b.Norm2.Forward(out)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm2: %w", err)
	}
	return b.Dropout.Forward(out, training), nil
}
