package model

import (
	"fmt"

	"seq2seq/pkg/tensor"
)

// Transformer is the complete encoder-decoder model.
//
// Forward steps:
//  1. src_mask = MakeSourceMask(src, SrcPadIdx)
//  2. trg_mask = MakeTargetMask(trg)
//  3. memory = Encoder(src, src_mask)
//  4. logits = Decoder(trg, memory, src_mask, trg_mask)
type Transformer struct {
	Config   Config
	Encoder  *Encoder
	Decoder  *Decoder
	Dropout  *tensor.Dropout // shared by every layer
	Training bool            // If false, dropout is disabled
}

// NewTransformer validates config and creates a model with weights drawn
// from config.Seed. Configuration errors are reported before any tensor
// is allocated.
func NewTransformer(config Config) (*Transformer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dropout, err := tensor.NewDropout(config.Dropout, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropout: %w", err)
	}

	encoder, err := NewEncoder(config, dropout)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := NewDecoder(config, dropout)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	m := &Transformer{
		Config:   config,
		Encoder:  encoder,
		Decoder:  decoder,
		Dropout:  dropout,
		Training: true, // Default to training mode
	}
	initializeWeights(m, config.Seed)

	return m, nil
}

// SetTraining sets the training mode for the model.
// When training=false, dropout is disabled.
func (m *Transformer) SetTraining(training bool) {
	m.Training = training
}

// Forward computes target logits for a batch of source and target
// sequences.
//
// Input shapes:
//   - src: (batch, src_len)
//   - trg: (batch, trg_len)
//
// Output shape: (batch, trg_len, trg_vocab)
func (m *Transformer) Forward(src, trg [][]int) (*tensor.Tensor, error) {
	if err := checkBatches(src, trg); err != nil {
		return nil, err
	}

	memory, srcMask, err := m.Encode(src, m.Training)
	if err != nil {
		return nil, err
	}

	trgMask, err := MakeTargetMask(trg)
	if err != nil {
		return nil, fmt.Errorf("failed to build target mask: %w", err)
	}

	logits, err := m.Decoder.Forward(trg, memory, srcMask, trgMask, m.Training)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return logits, nil
}

// Encode runs the encoder over src and returns the memory with the source
// mask it was computed under. Dropout applies only when training is true;
// m.Training is not consulted.
func (m *Transformer) Encode(src [][]int, training bool) (memory, srcMask *tensor.Tensor, err error) {
	srcMask, err = MakeSourceMask(src, m.Config.SrcPadIdx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build source mask: %w", err)
	}

	memory, err = m.Encoder.Forward(src, srcMask, training)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode: %w", err)
	}
	return memory, srcMask, nil
}

func checkBatches(src, trg [][]int) error {
	srcBatch, _, err := batchShape(src)
	if err != nil {
		return fmt.Errorf("invalid source batch: %w", err)
	}
	trgBatch, _, err := batchShape(trg)
	if err != nil {
		return fmt.Errorf("invalid target batch: %w", err)
	}
	if srcBatch != trgBatch {
		return fmt.Errorf("source batch size %d doesn't match target batch size %d", srcBatch, trgBatch)
	}
	return nil
}
