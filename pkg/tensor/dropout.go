package tensor

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dropout randomly zeros elements with probability P while training.
//
// The random source is owned by the Dropout value and guarded by a mutex,
// so one instance can be shared by every layer of a model.
type Dropout struct {
	P float64

	mu   sync.Mutex
	keep distuv.Bernoulli
}

// NewDropout creates a dropout layer with its own seeded random source.
// Returns an error if p is outside [0, 1).
func NewDropout(p float64, seed uint64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{
		P:    p,
		keep: distuv.Bernoulli{P: 1 - p, Src: rand.NewSource(seed)},
	}, nil
}

// Forward applies inverted dropout when training is true and P > 0.
// Kept values are scaled by 1/(1-P). Otherwise it returns x unchanged.
func (d *Dropout) Forward(x *Tensor, training bool) *Tensor {
	if d == nil || !training || d.P == 0 {
		return x
	}

	scale := 1 / (1 - d.P)
	mask := NewTensor(x.Shape)

	d.mu.Lock()
	for i := range mask.Data {
		mask.Data[i] = d.keep.Rand() * scale
	}
	d.mu.Unlock()

	result, _ := Mul(x, mask) // same shape, cannot fail
	return result
}
