package imageproc

import "errors"

var (
	// ErrInvalidImage marks uploads that are empty, oversized, of a
	// disallowed type or not decodable. Callers can fix these by resubmitting.
	ErrInvalidImage = errors.New("invalid image")

	// ErrPreprocessing marks a decoded image that could not be turned into
	// the model's input tensor.
	ErrPreprocessing = errors.New("preprocessing failed")

	// ErrValidation marks a tensor whose shape, size or values do not match
	// what the model expects.
	ErrValidation = errors.New("tensor validation failed")
)
