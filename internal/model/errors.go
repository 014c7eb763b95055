package model

import "errors"

var (
	// ErrModelUnavailable is returned for every prediction once a load has
	// failed, and while no model is configured.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInference marks a failed forward pass or unusable model output.
	ErrInference = errors.New("inference failed")
)
