package attention

import (
	"testing"

	"seq2seq/pkg/tensor"
)

// recordingNorm passes its input through and remembers it.
type recordingNorm struct {
	seen []*tensor.Tensor
}

func (n *recordingNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	n.seen = append(n.seen, x)
	return x, nil
}

// doublingFF returns 2x, which makes the second residual easy to predict.
type doublingFF struct{}

func (doublingFF) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Scale(2), nil
}

func TestTransformerBlock_ResidualOrdering(t *testing.T) {
	attn := newTestAttention(t, 8, 2)
	norm1, norm2 := &recordingNorm{}, &recordingNorm{}
	block := NewTransformerBlock(attn, doublingFF{}, norm1, norm2, nil)

	memory := patternInput(2, 5, 8, 0)
	query := patternInput(2, 3, 8, 1)

	out, err := block.Forward(memory, memory, query, nil, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !tensor.ShapeIs(out, 2, 3, 8) {
		t.Fatalf("Expected output shape of query [2 3 8], got %v", out.Shape)
	}

	// Norm1 sees attention(query) + query.
	attnOut, _ := attn.Forward(memory, memory, query, nil)
	firstResidual, _ := tensor.Add(attnOut, query)
	if len(norm1.seen) != 1 || !norm1.seen[0].Equals(firstResidual, 1e-12) {
		t.Error("Norm1 did not receive the attention residual")
	}

	// Norm2 sees FF(x) + x = 3x with identity norms.
	if len(norm2.seen) != 1 || !norm2.seen[0].Equals(firstResidual.Scale(3), 1e-12) {
		t.Error("Norm2 did not receive the feed-forward residual")
	}
	if !out.Equals(firstResidual.Scale(3), 1e-12) {
		t.Error("Unexpected block output")
	}
}

func TestTransformerBlock_ForwardProjectedMatchesForward(t *testing.T) {
	attn := newTestAttention(t, 8, 2)
	block := NewTransformerBlock(attn, doublingFF{}, &recordingNorm{}, &recordingNorm{}, nil)
	memory := patternInput(1, 4, 8, 0)
	query := patternInput(1, 2, 8, 1)
	mask, _ := tensor.FromSlice([]float64{1, 1, 0, 1}, []int{1, 1, 1, 4})

	direct, err := block.Forward(memory, memory, query, mask, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	kv, err := attn.ProjectKeyValue(memory, memory)
	if err != nil {
		t.Fatalf("ProjectKeyValue failed: %v", err)
	}
	projected, err := block.ForwardProjected(kv, query, mask, false)
	if err != nil {
		t.Fatalf("ForwardProjected failed: %v", err)
	}
	if !projected.Equals(direct, 0) {
		t.Error("ForwardProjected differs from Forward")
	}
}

func TestTransformerBlock_DropoutOnlyWhileTraining(t *testing.T) {
	attn := newTestAttention(t, 8, 2)
	dropout, err := tensor.NewDropout(0.5, 3)
	if err != nil {
		t.Fatalf("NewDropout failed: %v", err)
	}
	block := NewTransformerBlock(attn, doublingFF{}, &recordingNorm{}, &recordingNorm{}, dropout)
	x := patternInput(1, 4, 8, 0)

	eval1, _ := block.Forward(x, x, x, nil, false)
	eval2, _ := block.Forward(x, x, x, nil, false)
	if !eval1.Equals(eval2, 0) {
		t.Error("Expected eval mode to be deterministic")
	}

	train, err := block.Forward(x, x, x, nil, true)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	zeros := 0
	for _, v := range train.Data {
		if v == 0 {
			zeros++
		}
	}
	if zeros == 0 {
		t.Error("Expected training mode to drop some activations")
	}
}
