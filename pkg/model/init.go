package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"seq2seq/pkg/model/attention"
	"seq2seq/pkg/tensor"
)

// initializer draws initial weights from a seeded source, so equal seeds
// give identical models.
type initializer struct {
	src rand.Source
}

func newInitializer(seed uint64) *initializer {
	return &initializer{src: rand.NewSource(seed)}
}

// normal fills t with samples from N(0, 1).
func (in *initializer) normal(t *tensor.Tensor) {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: in.src}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

// uniform fills t with samples from U(-bound, bound).
func (in *initializer) uniform(t *tensor.Tensor, bound float64) {
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: in.src}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

// linear initializes a weight (fan_in, fan_out) and its bias from
// U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func (in *initializer) linear(weight, bias *tensor.Tensor) {
	bound := 1 / math.Sqrt(float64(weight.Shape[0]))
	in.uniform(weight, bound)
	if bias != nil {
		in.uniform(bias, bound)
	}
}

func (in *initializer) embedding(te *TokenEmbedding) {
	in.normal(te.Word.Table)
	in.normal(te.Position.Table)
}

func (in *initializer) attention(a *attention.SelfAttention) {
	in.linear(a.WValue, a.BValue)
	in.linear(a.WKey, a.BKey)
	in.linear(a.WQuery, a.BQuery)
	in.linear(a.WOut, a.BOut)
}

func (in *initializer) block(b *attention.TransformerBlock) {
	in.attention(b.Attn)
	if ff, ok := b.FF.(*FeedForward); ok {
		in.linear(ff.FC1.Weight, ff.FC1.Bias)
		in.linear(ff.FC2.Weight, ff.FC2.Bias)
	}
}

// initializeWeights sets every parameter of m.
//
//   - Embeddings: N(0, 1)
//   - Linear and attention projections: U(-1/sqrt(fan_in), 1/sqrt(fan_in))
//   - LayerNorm scale: ones, shift: zeros (already done in NewLayerNorm)
//
// Parameters are visited in a fixed order: encoder then decoder, layer by
// layer.
func initializeWeights(m *Transformer, seed uint64) {
	in := newInitializer(seed)

	in.embedding(m.Encoder.Embedding)
	for _, layer := range m.Encoder.Layers {
		in.block(layer)
	}

	in.embedding(m.Decoder.Embedding)
	for _, layer := range m.Decoder.Layers {
		in.attention(layer.SelfAttn)
		in.block(layer.Block)
	}
	in.linear(m.Decoder.FCOut.Weight, m.Decoder.FCOut.Bias)
}
