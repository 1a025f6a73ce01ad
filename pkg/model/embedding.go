package model

import (
	"fmt"

	"seq2seq/pkg/tensor"
)

// Embedding is a lookup table from integer id to a dense vector.
type Embedding struct {
	Table *tensor.Tensor // (num_embeddings, emb_dim)
}

// NewEmbedding creates a zero-initialized embedding table.
func NewEmbedding(numEmbeddings, embDim int) *Embedding {
	return &Embedding{Table: tensor.NewTensor([]int{numEmbeddings, embDim})}
}

// Lookup gathers the rows for a rectangular batch of ids.
//
// ids: (batch, seq)
// output: (batch, seq, emb_dim)
func (e *Embedding) Lookup(ids [][]int) (*tensor.Tensor, error) {
	num, embDim := e.Table.Shape[0], e.Table.Shape[1]
	batchSize, seqLen, err := batchShape(ids)
	if err != nil {
		return nil, err
	}

	output := tensor.NewTensor([]int{batchSize, seqLen, embDim})
	for b, row := range ids {
		for s, id := range row {
			if id < 0 || id >= num {
				return nil, fmt.Errorf("%w: id %d at position (%d, %d), table size is %d",
					ErrInvalidToken, id, b, s, num)
			}
			dst := (b*seqLen + s) * embDim
			copy(output.Data[dst:dst+embDim], e.Table.Data[id*embDim:(id+1)*embDim])
		}
	}

	return output, nil
}

// TokenEmbedding sums a content embedding and a learned position embedding.
type TokenEmbedding struct {
	Word     *Embedding // (vocab_size, emb_dim)
	Position *Embedding // (max_length, emb_dim)
}

// NewTokenEmbedding creates content and position tables.
func NewTokenEmbedding(vocabSize, maxLength, embDim int) *TokenEmbedding {
	return &TokenEmbedding{
		Word:     NewEmbedding(vocabSize, embDim),
		Position: NewEmbedding(maxLength, embDim),
	}
}

// Forward embeds ids, adding position p's vector to the token at p.
//
// ids: (batch, seq) with seq <= max_length
// output: (batch, seq, emb_dim)
func (te *TokenEmbedding) Forward(ids [][]int) (*tensor.Tensor, error) {
	return te.ForwardAt(ids, 0)
}

// ForwardAt embeds ids as the positions start, start+1, ... of a longer
// sequence. Used when decoding one step at a time.
func (te *TokenEmbedding) ForwardAt(ids [][]int, start int) (*tensor.Tensor, error) {
	batchSize, seqLen, err := batchShape(ids)
	if err != nil {
		return nil, err
	}
	if maxLen := te.Position.Table.Shape[0]; start < 0 || start+seqLen > maxLen {
		return nil, fmt.Errorf("%w: positions [%d, %d), max length %d",
			ErrSequenceTooLong, start, start+seqLen, maxLen)
	}

	words, err := te.Word.Lookup(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup word embeddings: %w", err)
	}

	positions := make([][]int, batchSize)
	for b := range positions {
		positions[b] = make([]int, seqLen)
		for s := range positions[b] {
			positions[b][s] = start + s
		}
	}
	pos, err := te.Position.Lookup(positions)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup position embeddings: %w", err)
	}

	return tensor.Add(words, pos)
}

// batchShape returns the dimensions of a non-empty rectangular batch.
func batchShape(ids [][]int) (batchSize, seqLen int, err error) {
	if len(ids) == 0 {
		return 0, 0, fmt.Errorf("empty batch")
	}
	seqLen = len(ids[0])
	if seqLen == 0 {
		return 0, 0, fmt.Errorf("empty sequence in batch")
	}
	for b, row := range ids {
		if len(row) != seqLen {
			return 0, 0, fmt.Errorf("ragged batch: row %d has length %d, row 0 has %d", b, len(row), seqLen)
		}
	}
	return len(ids), seqLen, nil
}
