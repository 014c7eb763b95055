//go:build !cgo

package model

import "errors"

var errNoRuntime = errors.New("built without cgo, ONNX Runtime is not available")

func InitializeRuntime(libraryPath string) error {
	return errNoRuntime
}

func DestroyRuntime() error {
	return nil
}

// ONNXLoader returns a loader that always fails when cgo is disabled.
func ONNXLoader(modelPath, libraryPath string, profile Profile) Loader {
	return func() (Model, error) {
		return nil, errNoRuntime
	}
}
