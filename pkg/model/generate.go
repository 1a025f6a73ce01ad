package model

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"seq2seq/pkg/tensor"
)

// GreedyDecode translates src by repeatedly appending the most likely next
// target token.
//
// Each output row starts with startID. Decoding stops once every row has
// produced endID, or when rows reach maxLen tokens (start token included).
// Rows that finish early are filled with TrgPadIdx. A negative endID
// disables early stopping.
//
// The source is encoded once; each step feeds only the newest token through
// the decoder, reusing cached keys and values. The result equals running
// Forward on the growing prefix and taking the argmax of the last position.
//
// Output shape: (batch, <= maxLen)
func (m *Transformer) GreedyDecode(src [][]int, startID, endID, maxLen int) ([][]int, error) {
	if maxLen < 1 {
		return nil, fmt.Errorf("maxLen must be positive, got %d", maxLen)
	}
	if startID < 0 || startID >= m.Config.TrgVocabSize {
		return nil, fmt.Errorf("%w: start id %d, target vocabulary size %d",
			ErrInvalidToken, startID, m.Config.TrgVocabSize)
	}

	// Always inference mode; m.Training is left untouched so decoding can
	// run alongside Forward on the same model.
	memory, srcMask, err := m.Encode(src, false)
	if err != nil {
		return nil, err
	}
	state, err := m.Decoder.NewDecodeState(memory, srcMask, maxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare decoding: %w", err)
	}

	batchSize := len(src)
	out := make([][]int, batchSize)
	next := make([][]int, batchSize)
	done := make([]bool, batchSize)
	for b := range out {
		out[b] = []int{startID}
		next[b] = []int{startID}
	}

	for step := 1; step < maxLen; step++ {
		logits, err := m.Decoder.Step(next, state, false)
		if err != nil {
			return nil, fmt.Errorf("decoder step %d failed: %w", step, err)
		}

		finished := true
		for b, id := range argmaxLast(logits) {
			if done[b] {
				id = m.Config.TrgPadIdx
			} else if id == endID {
				done[b] = true
			}
			out[b] = append(out[b], id)
			next[b][0] = id
			finished = finished && done[b]
		}
		if finished {
			break
		}
	}

	return out, nil
}

// argmaxLast returns, for each batch row, the index of the largest logit
// at the last position. Ties resolve to the lowest index.
//
// Input shape: (batch, seq, vocab_size)
func argmaxLast(logits *tensor.Tensor) []int {
	batchSize, seqLen := logits.Shape[0], logits.Shape[1]
	ids := make([]int, batchSize)
	for b := range ids {
		ids[b] = floats.MaxIdx(logits.Row(b, seqLen-1))
	}
	return ids
}
