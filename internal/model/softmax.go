package model

import (
	"fmt"
	"math"
)

// Softmax converts logits to probabilities. The maximum logit is subtracted
// before exponentiating so large scores cannot overflow.
func Softmax(logits []float32) ([]float32, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: empty model output", ErrInference)
	}

	maxLogit := math.Inf(-1)
	for i, l := range logits {
		v := float64(l)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite logit at index %d", ErrInference, i)
		}
		maxLogit = math.Max(maxLogit, v)
	}

	exps := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		exps[i] = math.Exp(float64(l) - maxLogit)
		sum += exps[i]
	}

	probs := make([]float32, len(logits))
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs, nil
}

// Renormalize rescales scores that are already probabilities, such as the
// output of a softmax head, so they sum to exactly one.
func Renormalize(scores []float32) ([]float32, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: empty model output", ErrInference)
	}

	var sum float64
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: invalid probability %v at index %d", ErrInference, s, i)
		}
		sum += v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: probabilities sum to zero", ErrInference)
	}

	probs := make([]float32, len(scores))
	for i, s := range scores {
		probs[i] = float32(float64(s) / sum)
	}
	return probs, nil
}

// Argmax returns the index of the largest value, preferring the lowest index on ties.
func Argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
