package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func total(values []float32) float64 {
	var s float64
	for _, v := range values {
		s += float64(v)
	}
	return s
}

func TestSoftmax(t *testing.T) {
	probs, err := Softmax([]float32{1, 2, 3})
	require.NoError(t, err)

	e1, e2, e3 := math.Exp(1), math.Exp(2), math.Exp(3)
	s := e1 + e2 + e3
	assert.InDelta(t, e1/s, probs[0], 1e-6)
	assert.InDelta(t, e2/s, probs[1], 1e-6)
	assert.InDelta(t, e3/s, probs[2], 1e-6)
	assert.InDelta(t, 1.0, total(probs), 1e-6)
}

func TestSoftmaxLargeLogits(t *testing.T) {
	probs, err := Softmax([]float32{1000, 1001, -1000, 3e38})
	require.NoError(t, err)
	for _, p := range probs {
		assert.False(t, math.IsNaN(float64(p)))
	}
	assert.InDelta(t, 1.0, probs[3], 1e-6)
	assert.InDelta(t, 1.0, total(probs), 1e-6)
}

func TestSoftmaxUniform(t *testing.T) {
	probs, err := Softmax([]float32{-7, -7, -7, -7})
	require.NoError(t, err)
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-7)
	}
}

func TestSoftmaxRejectsBadInput(t *testing.T) {
	_, err := Softmax(nil)
	assert.ErrorIs(t, err, ErrInference)

	_, err = Softmax([]float32{1, float32(math.Inf(1))})
	assert.ErrorIs(t, err, ErrInference)

	_, err = Softmax([]float32{float32(math.NaN())})
	assert.ErrorIs(t, err, ErrInference)
}

func TestRenormalize(t *testing.T) {
	probs, err := Renormalize([]float32{2, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.25, 0.5}, probs)

	_, err = Renormalize([]float32{0, 0})
	assert.ErrorIs(t, err, ErrInference)

	_, err = Renormalize([]float32{0.5, -0.1})
	assert.ErrorIs(t, err, ErrInference)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, Argmax([]float32{0.5, 0.5}))
	assert.Equal(t, 0, Argmax([]float32{1}))
}
