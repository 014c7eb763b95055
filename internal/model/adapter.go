package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
	"github.com/Brownie44l1/dementia-api/internal/metrics"
)

// Model is a loaded network. Forward receives an NHWC tensor that already
// passed validation and returns one score per label. Implementations must be
// safe for concurrent use and must not mutate their weights.
type Model interface {
	Forward(ctx context.Context, input imageproc.Tensor) ([]float32, error)
	Close() error
}

type Loader func() (Model, error)

type Options struct {
	// MaxConcurrent bounds simultaneous forward passes. Zero means GOMAXPROCS.
	MaxConcurrent int
	Metrics       *metrics.Metrics
}

// Adapter owns the model for the lifetime of the process. It loads the model
// at most once, on the first call that needs it, and shares it read-only
// across requests.
type Adapter struct {
	profile      Profile
	preprocessor *imageproc.Preprocessor
	validator    *imageproc.Validator
	loader       Loader
	metrics      *metrics.Metrics
	sem          *semaphore.Weighted

	once     sync.Once
	model    Model
	loadErr  error
	loaded   atomic.Bool
	loadedAt time.Time

	numCalls uint64
	totalNS  uint64
}

func NewAdapter(profile Profile, loader Loader, opts Options) (*Adapter, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, errors.New("model loader is required")
	}
	preprocessor, err := profile.Preprocessor()
	if err != nil {
		return nil, err
	}

	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	return &Adapter{
		profile:      profile,
		preprocessor: preprocessor,
		validator:    profile.Validator(),
		loader:       loader,
		metrics:      opts.Metrics,
		sem:          semaphore.NewWeighted(int64(limit)),
	}, nil
}

func (a *Adapter) Profile() Profile {
	return a.profile
}

// Load loads the model if no load has been attempted yet. Concurrent callers
// wait for the same attempt. A failed load is permanent.
func (a *Adapter) Load() error {
	a.once.Do(func() {
		start := time.Now()
		slog.Info("loading model", "profile", a.profile.Name)

		m, err := a.loader()
		if err == nil && m == nil {
			err = errors.New("loader returned no model")
		}
		if err != nil {
			slog.Error("error loading model", "profile", a.profile.Name, "error", err)
			a.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			a.metrics.SetModelLoaded(false)
			return
		}

		a.model = m
		a.loadedAt = time.Now()
		a.loaded.Store(true)
		a.metrics.SetModelLoaded(true)
		slog.Info("model loaded successfully", "profile", a.profile.Name, "duration", time.Since(start))
	})
	return a.loadErr
}

func (a *Adapter) IsLoaded() bool {
	return a.loaded.Load()
}

// LoadedAt is the zero time until the model has loaded.
func (a *Adapter) LoadedAt() time.Time {
	if !a.IsLoaded() {
		return time.Time{}
	}
	return a.loadedAt
}

// Predict preprocesses img with the profile's transform and classifies it.
func (a *Adapter) Predict(ctx context.Context, img *imageproc.DecodedImage) (*PredictionResult, error) {
	if err := a.Load(); err != nil {
		a.metrics.ObserveError("model_unavailable")
		return nil, err
	}

	tensor, err := a.preprocessor.Preprocess(img)
	if err != nil {
		a.metrics.ObserveError("preprocessing")
		return nil, err
	}

	return a.run(ctx, tensor)
}

// PredictTensor classifies an NHWC tensor that was preprocessed elsewhere.
func (a *Adapter) PredictTensor(ctx context.Context, tensor imageproc.Tensor) (*PredictionResult, error) {
	if err := a.Load(); err != nil {
		a.metrics.ObserveError("model_unavailable")
		return nil, err
	}
	return a.run(ctx, tensor)
}

func (a *Adapter) run(ctx context.Context, tensor imageproc.Tensor) (*PredictionResult, error) {
	if err := a.validator.Validate(tensor); err != nil {
		slog.Error("tensor failed validation", "profile", a.profile.Name, "error", err)
		a.metrics.ObserveError("validation")
		return nil, err
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for inference slot: %w", err)
	}
	start := time.Now()
	scores, err := a.model.Forward(ctx, tensor)
	elapsed := time.Since(start)
	a.sem.Release(1)

	if err != nil {
		a.metrics.ObserveError("inference")
		if errors.Is(err, ErrInference) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	result, err := a.postprocess(scores)
	if err != nil {
		a.metrics.ObserveError("inference")
		return nil, err
	}
	result.Duration = elapsed

	atomic.AddUint64(&a.numCalls, 1)
	atomic.AddUint64(&a.totalNS, uint64(elapsed))
	a.metrics.ObservePrediction(result.PredictedClass, elapsed)

	return result, nil
}

func (a *Adapter) postprocess(scores []float32) (*PredictionResult, error) {
	if len(scores) != len(a.profile.Labels) {
		return nil, fmt.Errorf("%w: model returned %d scores for %d classes", ErrInference, len(scores), len(a.profile.Labels))
	}

	var probs []float32
	var err error
	if a.profile.Output == OutputProbabilities {
		probs, err = Renormalize(scores)
	} else {
		probs, err = Softmax(scores)
	}
	if err != nil {
		return nil, err
	}

	best := Argmax(probs)
	confidence := make(map[string]float32, len(probs))
	for i, p := range probs {
		confidence[a.profile.Labels[i]] = p
	}

	return &PredictionResult{
		PredictedClass:   a.profile.Labels[best],
		ConfidenceScores: confidence,
		Confidence:       probs[best],
	}, nil
}

func (a *Adapter) Stats() Stats {
	return Stats{
		TotalPredictions: atomic.LoadUint64(&a.numCalls),
		TotalInference:   time.Duration(atomic.LoadUint64(&a.totalNS)),
	}
}

// Close releases the model if one was loaded.
func (a *Adapter) Close() error {
	if !a.IsLoaded() {
		return nil
	}
	return a.model.Close()
}
