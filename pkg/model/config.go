// Package model provides the encoder-decoder transformer built on the
// attention package.
//
// Architecture:
//   - Learned content and position embeddings for source and target
//   - Encoder: N post-norm transformer blocks over the source
//   - Decoder: N layers of causal self-attention followed by a transformer
//     block that cross-attends into the encoder memory
//   - Linear projection from the decoder state to target vocabulary logits
package model

import (
	"errors"
	"fmt"

	"seq2seq/pkg/model/attention"
	"seq2seq/pkg/tensor"
)

var (
	// ErrHeadsNotDivisible is returned when EmbedSize % Heads != 0.
	// It is the same value as attention.ErrHeadsNotDivisible, so errors.Is
	// matches either one.
	ErrHeadsNotDivisible = attention.ErrHeadsNotDivisible

	// ErrUnsupportedDevice is returned for a Device other than "cpu".
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrInvalidToken is returned for a token id outside the vocabulary.
	ErrInvalidToken = errors.New("token id out of vocabulary range")

	// ErrSequenceTooLong is returned when a sequence exceeds MaxLength.
	ErrSequenceTooLong = errors.New("sequence longer than max length")
)

// DeviceCPU is the only execution device currently provided.
const DeviceCPU = "cpu"

const layerNormEps = 1e-5

// Config holds the construction parameters of a Transformer.
type Config struct {
	// SrcVocabSize is the number of distinct source token ids
	SrcVocabSize int

	// TrgVocabSize is the number of distinct target token ids (logit width)
	TrgVocabSize int

	// SrcPadIdx is the source padding id, excluded by the source mask
	SrcPadIdx int

	// TrgPadIdx is the target padding id
	TrgPadIdx int

	// EmbedSize is the model width (512)
	EmbedSize int

	// NumLayers is the number of encoder and decoder layers (6)
	NumLayers int

	// ForwardExpansion multiplies EmbedSize for the feed-forward hidden width (4)
	ForwardExpansion int

	// Heads is the number of attention heads (8)
	Heads int

	// Dropout is the drop probability used in training mode (0)
	Dropout float64

	// Device selects the numeric backend ("cpu")
	Device string

	// MaxLength is the longest supported sequence, sizing the position tables (100)
	MaxLength int

	// Workers is the number of goroutines the cpu backend may use for the
	// batch and head axes (1 = serial)
	Workers int

	// Seed drives weight initialization and the dropout random source
	Seed uint64
}

// DefaultConfig returns the default hyperparameters for the given
// vocabularies and padding ids.
func DefaultConfig(srcVocabSize, trgVocabSize, srcPadIdx, trgPadIdx int) Config {
	return Config{
		SrcVocabSize:     srcVocabSize,
		TrgVocabSize:     trgVocabSize,
		SrcPadIdx:        srcPadIdx,
		TrgPadIdx:        trgPadIdx,
		EmbedSize:        512,
		NumLayers:        6,
		ForwardExpansion: 4,
		Heads:            8,
		Dropout:          0,
		Device:           DeviceCPU,
		MaxLength:        100,
		Workers:          1,
	}
}

// Validate checks if the configuration is valid and consistent.
// Returns an error if any parameters are incompatible.
func (c Config) Validate() error {
	if c.Heads <= 0 {
		return fmt.Errorf("heads must be positive, got %d", c.Heads)
	}
	if c.EmbedSize <= 0 {
		return fmt.Errorf("embed_size must be positive, got %d", c.EmbedSize)
	}
	if c.EmbedSize%c.Heads != 0 {
		return fmt.Errorf("%w: embed_size %d, heads %d", ErrHeadsNotDivisible, c.EmbedSize, c.Heads)
	}
	if c.SrcVocabSize <= 0 || c.TrgVocabSize <= 0 {
		return fmt.Errorf("vocab sizes must be positive, got src=%d trg=%d", c.SrcVocabSize, c.TrgVocabSize)
	}
	if c.SrcPadIdx < 0 || c.SrcPadIdx >= c.SrcVocabSize {
		return fmt.Errorf("src_pad_idx %d outside vocabulary of size %d", c.SrcPadIdx, c.SrcVocabSize)
	}
	if c.TrgPadIdx < 0 || c.TrgPadIdx >= c.TrgVocabSize {
		return fmt.Errorf("trg_pad_idx %d outside vocabulary of size %d", c.TrgPadIdx, c.TrgVocabSize)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d", c.NumLayers)
	}
	if c.ForwardExpansion <= 0 {
		return fmt.Errorf("forward_expansion must be positive, got %d", c.ForwardExpansion)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("max_length must be positive, got %d", c.MaxLength)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	if c.Device != DeviceCPU {
		return fmt.Errorf("%w: %q", ErrUnsupportedDevice, c.Device)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// HeadDimension returns the dimension per attention head.
func (c Config) HeadDimension() int {
	return c.EmbedSize / c.Heads
}

// HiddenDimension returns the feed-forward hidden width.
func (c Config) HiddenDimension() int {
	return c.ForwardExpansion * c.EmbedSize
}

func (c Config) backend() tensor.Backend {
	return tensor.Backend{Workers: c.Workers}
}
