package model

import (
	"fmt"

	"seq2seq/pkg/model/attention"
	"seq2seq/pkg/tensor"
)

// Encoder maps source tokens to the memory the decoder attends to.
//
// Architecture:
//  1. x = Dropout(WordEmb[src] + PosEmb[0:src_len])
//  2. For each layer: x = layer(x, x, x, src_mask)
type Encoder struct {
	Embedding *TokenEmbedding
	Layers    []*attention.TransformerBlock
	Dropout   *tensor.Dropout
}

// NewEncoder creates an encoder with zeroed weights sized from config.
// The dropout is shared by the embedding and every layer.
func NewEncoder(config Config, dropout *tensor.Dropout) (*Encoder, error) {
	enc := &Encoder{
		Embedding: NewTokenEmbedding(config.SrcVocabSize, config.MaxLength, config.EmbedSize),
		Layers:    make([]*attention.TransformerBlock, config.NumLayers),
		Dropout:   dropout,
	}
	for i := range enc.Layers {
		block, err := newBlock(config, dropout)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder layer %d: %w", i, err)
		}
		enc.Layers[i] = block
	}
	return enc, nil
}

// Forward encodes src.
//
// Input:
//   - src: (batch, src_len) token ids
//   - srcMask: (batch, 1, 1, src_len) padding mask
//
// Output shape: (batch, src_len, embed)
func (e *Encoder) Forward(src [][]int, srcMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	x, err := e.Embedding.Forward(src)
	if err != nil {
		return nil, fmt.Errorf("failed to embed source: %w", err)
	}
	x = e.Dropout.Forward(x, training)

	for i, layer := range e.Layers {
		x, err = layer.Forward(x, x, x, srcMask, training)
		if err != nil {
			return nil, fmt.Errorf("failed in encoder layer %d: %w", i, err)
		}
	}
	return x, nil
}

// newBlock builds one post-norm transformer block on cfg's backend.
func newBlock(config Config, dropout *tensor.Dropout) (*attention.TransformerBlock, error) {
	attn, err := newAttention(config)
	if err != nil {
		return nil, err
	}
	ff := NewFeedForward(config)
	ff.FC1.Backend = config.backend()
	ff.FC2.Backend = config.backend()

	return attention.NewTransformerBlock(
		attn,
		ff,
		NewLayerNorm(config.EmbedSize, layerNormEps),
		NewLayerNorm(config.EmbedSize, layerNormEps),
		dropout,
	), nil
}

func newAttention(config Config) (*attention.SelfAttention, error) {
	attn, err := attention.NewSelfAttention(attention.MultiHeadAttentionConfig{
		EmbedSize: config.EmbedSize,
		NumHeads:  config.Heads,
	})
	if err != nil {
		return nil, err
	}
	if attn.HeadDim != config.HeadDimension() {
		return nil, fmt.Errorf("attention head dimension %d, expected %d", attn.HeadDim, config.HeadDimension())
	}
	attn.Backend = config.backend()
	return attn, nil
}
