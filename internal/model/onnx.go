//go:build cgo

package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitializeRuntime sets up the ONNX Runtime environment once per process.
func InitializeRuntime(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return initErr
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXModel runs an exported classifier with ONNX Runtime. Tensors are
// allocated per call, so concurrent forward passes share only the session.
type ONNXModel struct {
	session     *ort.DynamicAdvancedSession
	layout      Layout
	outputShape ort.Shape
}

func NewONNXModel(modelPath string, profile Profile) (*ONNXModel, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found at %s: %w", modelPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{profile.InputName}, []string{profile.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:     session,
		layout:      profile.Layout,
		outputShape: ort.NewShape(profile.OutputShape()...),
	}, nil
}

// ONNXLoader defers runtime initialization and session creation until the
// adapter first needs the model.
func ONNXLoader(modelPath, libraryPath string, profile Profile) Loader {
	return func() (Model, error) {
		if err := InitializeRuntime(libraryPath); err != nil {
			return nil, err
		}
		return NewONNXModel(modelPath, profile)
	}
}

func (m *ONNXModel) Forward(ctx context.Context, input imageproc.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.layout == LayoutNCHW {
		var err error
		if input, err = input.NCHW(); err != nil {
			return nil, err
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](m.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("%w: session run error: %v", ErrInference, err)
	}

	return append([]float32(nil), outputTensor.GetData()...), nil
}

func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}
