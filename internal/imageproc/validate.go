package imageproc

import (
	"fmt"
	"log/slog"
	"math"
)

const rangeTolerance = 1e-5

// Validator checks tensors against the input contract of a model before a
// forward pass. It never modifies the tensor.
type Validator struct {
	size Size
	norm Normalization
}

func NewValidator(size Size, norm Normalization) *Validator {
	return &Validator{size: size, norm: norm}
}

// Check reports whether t passes Validate, logging the reason when it does not.
func (v *Validator) Check(t Tensor) bool {
	if err := v.Validate(t); err != nil {
		slog.Debug("tensor rejected", "error", err)
		return false
	}
	return true
}

// Validate returns an error wrapping ErrValidation that names the expected
// and actual value of the first failed check. The value range depends on the
// normalization policy: [0,1] for scale, the reachable standardized range per
// channel for standardize.
func (v *Validator) Validate(t Tensor) error {
	if t.Rank() != 4 {
		return fmt.Errorf("%w: expected 4 dimensions, got %d", ErrValidation, t.Rank())
	}
	if t.Shape[0] != 1 {
		return fmt.Errorf("%w: expected batch size 1, got %d", ErrValidation, t.Shape[0])
	}
	if t.Shape[1] != int64(v.size.Height) || t.Shape[2] != int64(v.size.Width) {
		return fmt.Errorf("%w: expected spatial dimensions (%d, %d), got (%d, %d)",
			ErrValidation, v.size.Height, v.size.Width, t.Shape[1], t.Shape[2])
	}
	if t.Shape[3] != Channels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrValidation, Channels, t.Shape[3])
	}
	if int64(len(t.Data)) != t.Elements() {
		return fmt.Errorf("%w: expected %d float32 values for shape %v, got %d",
			ErrValidation, t.Elements(), t.Shape, len(t.Data))
	}

	var lo, hi [Channels]float32
	for c := 0; c < Channels; c++ {
		lo[c], hi[c] = v.norm.Bounds(c)
	}

	for i, x := range t.Data {
		c := i % Channels
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrValidation, i)
		}
		if x < lo[c]-rangeTolerance || x > hi[c]+rangeTolerance {
			return fmt.Errorf("%w: value %v at index %d outside [%v, %v] for %s normalization",
				ErrValidation, x, i, lo[c], hi[c], v.norm.Policy)
		}
	}

	return nil
}
