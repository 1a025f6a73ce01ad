package model

import (
	"fmt"

	"seq2seq/pkg/model/attention"
	"seq2seq/pkg/tensor"
)

// DecoderBlock is one decoder layer: causal self-attention over the target
// followed by a transformer block that attends into the encoder memory.
//
// Architecture:
//  1. a = SelfAttn(x, x, x, trg_mask)
//  2. query = Dropout(Norm(a + x))
//  3. out = Block(memory, memory, query, src_mask)
type DecoderBlock struct {
	SelfAttn *attention.SelfAttention
	Norm     *LayerNorm
	Block    *attention.TransformerBlock
	Dropout  *tensor.Dropout
}

// NewDecoderBlock creates a decoder layer with zeroed weights.
func NewDecoderBlock(config Config, dropout *tensor.Dropout) (*DecoderBlock, error) {
	selfAttn, err := newAttention(config)
	if err != nil {
		return nil, err
	}
	block, err := newBlock(config, dropout)
	if err != nil {
		return nil, err
	}
	return &DecoderBlock{
		SelfAttn: selfAttn,
		Norm:     NewLayerNorm(config.EmbedSize, layerNormEps),
		Block:    block,
		Dropout:  dropout,
	}, nil
}

// Forward computes the layer over the whole target sequence.
//
// Input shapes:
//   - x: (batch, trg_len, embed)
//   - memory: (batch, src_len, embed)
//   - srcMask: (batch, 1, 1, src_len)
//   - trgMask: (batch, 1, trg_len, trg_len)
//
// Output shape: (batch, trg_len, embed)
func (db *DecoderBlock) Forward(x, memory, srcMask, trgMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	attnOut, err := db.SelfAttn.Forward(x, x, x, trgMask)
	if err != nil {
		return nil, fmt.Errorf("failed to compute self-attention: %w", err)
	}
	query, err := db.residual(attnOut, x, training)
	if err != nil {
		return nil, err
	}
	return db.Block.Forward(memory, memory, query, srcMask, training)
}

// ForwardCached computes the layer for new target positions only. Their
// self-attention keys and values are appended to cache; memory holds the
// projected encoder output for this layer's cross-attention.
//
// trgMask, if not nil, is shaped (new_len, cached_len + new_len).
func (db *DecoderBlock) ForwardCached(x *tensor.Tensor, cache *attention.KVCache, memory *attention.KeyValue, srcMask, trgMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	kv, err := db.SelfAttn.ProjectKeyValue(x, x)
	if err != nil {
		return nil, fmt.Errorf("failed to project self-attention keys: %w", err)
	}
	kv, err = cache.Update(kv)
	if err != nil {
		return nil, fmt.Errorf("failed to update self-attention cache: %w", err)
	}
	attnOut, _, err := db.SelfAttn.ForwardProjected(kv, x, trgMask)
	if err != nil {
		return nil, fmt.Errorf("failed to compute self-attention: %w", err)
	}
	query, err := db.residual(attnOut, x, training)
	if err != nil {
		return nil, err
	}
	return db.Block.ForwardProjected(memory, query, srcMask, training)
}

func (db *DecoderBlock) residual(attnOut, x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	sum, err := tensor.Add(attnOut, x)
	if err != nil {
		return nil, fmt.Errorf("failed to add self-attention residual: %w", err)
	}
	query, err := db.Norm.Forward(sum)
	if err != nil {
		return nil, fmt.Errorf("failed to apply decoder norm: %w", err)
	}
	return db.Dropout.Forward(query, training), nil
}

// Decoder maps target tokens and encoder memory to vocabulary logits.
//
// Architecture:
//  1. x = Dropout(WordEmb[trg] + PosEmb[0:trg_len])
//  2. For each layer: x = layer(x, memory, src_mask, trg_mask)
//  3. logits = x @ FCOut (no softmax)
type Decoder struct {
	Embedding *TokenEmbedding
	Layers    []*DecoderBlock
	FCOut     *Linear // (embed, trg_vocab)
	Dropout   *tensor.Dropout
}

// NewDecoder creates a decoder with zeroed weights sized from config.
func NewDecoder(config Config, dropout *tensor.Dropout) (*Decoder, error) {
	dec := &Decoder{
		Embedding: NewTokenEmbedding(config.TrgVocabSize, config.MaxLength, config.EmbedSize),
		Layers:    make([]*DecoderBlock, config.NumLayers),
		FCOut:     NewLinear(config.EmbedSize, config.TrgVocabSize),
		Dropout:   dropout,
	}
	dec.FCOut.Backend = config.backend()
	for i := range dec.Layers {
		layer, err := NewDecoderBlock(config, dropout)
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder layer %d: %w", i, err)
		}
		dec.Layers[i] = layer
	}
	return dec, nil
}

// Forward decodes the full target sequence.
//
// Output shape: (batch, trg_len, trg_vocab)
func (d *Decoder) Forward(trg [][]int, memory, srcMask, trgMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	x, err := d.Embedding.Forward(trg)
	if err != nil {
		return nil, fmt.Errorf("failed to embed target: %w", err)
	}
	x = d.Dropout.Forward(x, training)

	for i, layer := range d.Layers {
		x, err = layer.Forward(x, memory, srcMask, trgMask, training)
		if err != nil {
			return nil, fmt.Errorf("failed in decoder layer %d: %w", i, err)
		}
	}

	logits, err := d.FCOut.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute output logits: %w", err)
	}
	return logits, nil
}

// DecodeState holds what an incremental decode reuses across steps: the
// per-layer projected encoder memory and self-attention caches.
type DecodeState struct {
	Memory  []*attention.KeyValue
	Caches  []*attention.KVCache
	SrcMask *tensor.Tensor
}

// Len returns the number of target positions decoded so far.
func (s *DecodeState) Len() int {
	return s.Caches[0].CurrentPos
}

// NewDecodeState projects memory once for every layer and allocates
// self-attention caches with room for maxLen target positions.
func (d *Decoder) NewDecodeState(memory, srcMask *tensor.Tensor, maxLen int) (*DecodeState, error) {
	if maxLimit := d.Embedding.Position.Table.Shape[0]; maxLen > maxLimit {
		return nil, fmt.Errorf("%w: %d target positions, max length %d", ErrSequenceTooLong, maxLen, maxLimit)
	}

	state := &DecodeState{
		Memory:  make([]*attention.KeyValue, len(d.Layers)),
		Caches:  make([]*attention.KVCache, len(d.Layers)),
		SrcMask: srcMask,
	}
	batchSize := memory.Shape[0]
	for i, layer := range d.Layers {
		attn := layer.Block.Attn
		kv, err := attn.ProjectKeyValue(memory, memory)
		if err != nil {
			return nil, fmt.Errorf("failed to project memory for decoder layer %d: %w", i, err)
		}
		state.Memory[i] = kv
		state.Caches[i] = attention.NewKVCache(batchSize, layer.SelfAttn.NumHeads, maxLen, layer.SelfAttn.HeadDim)
	}
	return state, nil
}

// Step decodes the next target positions, continuing from state.
//
// trg: (batch, new_len) ids for positions Len() .. Len()+new_len-1
// output: (batch, new_len, trg_vocab)
func (d *Decoder) Step(trg [][]int, state *DecodeState, training bool) (*tensor.Tensor, error) {
	start := state.Len()
	x, err := d.Embedding.ForwardAt(trg, start)
	if err != nil {
		return nil, fmt.Errorf("failed to embed target: %w", err)
	}
	x = d.Dropout.Forward(x, training)

	var trgMask *tensor.Tensor
	if newLen := x.Shape[1]; newLen > 1 {
		trgMask = stepMask(start, newLen)
	}

	for i, layer := range d.Layers {
		x, err = layer.ForwardCached(x, state.Caches[i], state.Memory[i], state.SrcMask, trgMask, training)
		if err != nil {
			return nil, fmt.Errorf("failed in decoder layer %d: %w", i, err)
		}
	}

	logits, err := d.FCOut.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute output logits: %w", err)
	}
	return logits, nil
}

// stepMask lets new position i (absolute start+i) attend to absolute
// positions 0..start+i.
//
// output: (new_len, start + new_len)
func stepMask(start, newLen int) *tensor.Tensor {
	total := start + newLen
	mask := tensor.NewTensor([]int{newLen, total})
	for i := 0; i < newLen; i++ {
		row := mask.Data[i*total : (i+1)*total]
		for j := 0; j <= start+i; j++ {
			row[j] = 1
		}
	}
	return mask
}
