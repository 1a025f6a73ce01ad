package model

import (
	"fmt"

	"seq2seq/pkg/tensor"
)

// Linear is a fully connected layer: y = x @ Weight + Bias.
type Linear struct {
	Weight  *tensor.Tensor // (in, out)
	Bias    *tensor.Tensor // (out,)
	Backend tensor.Backend
}

// NewLinear creates a zero-initialized linear layer.
func NewLinear(in, out int) *Linear {
	return &Linear{
		Weight: tensor.NewTensor([]int{in, out}),
		Bias:   tensor.NewTensor([]int{out}),
	}
}

// Forward applies the projection to the last axis of x.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected at least 2D input, got %dD", len(x.Shape))
	}
	if in := x.Shape[len(x.Shape)-1]; in != l.Weight.Shape[0] {
		return nil, fmt.Errorf("input dimension %d doesn't match linear input dimension %d",
			in, l.Weight.Shape[0])
	}
	return l.Backend.Linear(x, l.Weight, l.Bias)
}

// FeedForward implements the position-wise feed-forward network.
//
// Architecture:
//  1. Linear projection: x @ FC1 -> (batch, seq, expansion * emb_dim)
//  2. ReLU activation
//  3. Linear projection: @ FC2 -> (batch, seq, emb_dim)
type FeedForward struct {
	FC1 *Linear // (emb_dim, hidden_dim)
	FC2 *Linear // (hidden_dim, emb_dim)
}

// NewFeedForward creates a new feed-forward layer sized from config.
func NewFeedForward(config Config) *FeedForward {
	return &FeedForward{
		FC1: NewLinear(config.EmbedSize, config.HiddenDimension()),
		FC2: NewLinear(config.HiddenDimension(), config.EmbedSize),
	}
}

// Forward computes the feed-forward transformation.
//
// Input shape: (batch, seq, emb_dim)
// Output shape: (batch, seq, emb_dim)
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := ff.FC1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC1 projection: %w", err)
	}

	output, err := ff.FC2.Forward(hidden.ReLU())
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC2 projection: %w", err)
	}

	return output, nil
}
