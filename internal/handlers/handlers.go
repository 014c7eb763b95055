package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
	"github.com/Brownie44l1/dementia-api/internal/metrics"
	"github.com/Brownie44l1/dementia-api/internal/model"
)

// Room for the multipart envelope around a maximum-size file.
const multipartOverhead = 1 << 20

type Options struct {
	Prefix       string
	Environment  string
	ModelVersion string
	// ModelUpdated is the modification time of the weights, if known.
	ModelUpdated time.Time
	Metrics      *metrics.Metrics
}

type Handler struct {
	codec   *imageproc.Codec
	adapter *model.Adapter
	metrics *metrics.Metrics

	prefix       string
	environment  string
	modelVersion string
	modelUpdated time.Time
	startTime    time.Time
}

func NewHandler(codec *imageproc.Codec, adapter *model.Adapter, opts Options) *Handler {
	prefix := "/" + strings.Trim(opts.Prefix, "/")
	if prefix == "/" {
		prefix = "/api"
	}
	return &Handler{
		codec:        codec,
		adapter:      adapter,
		metrics:      opts.Metrics,
		prefix:       prefix,
		environment:  opts.Environment,
		modelVersion: opts.ModelVersion,
		modelUpdated: opts.ModelUpdated,
		startTime:    time.Now(),
	}
}

func (h *Handler) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(h.Health))
	r.Handle("/metrics", h.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(limitBody(h.codec.MaxSize() + multipartOverhead))
		r.Post("/predict", RestHandler(h.PredictUpload))
		r.Post("/predict/", RestHandler(h.PredictUpload))
	})

	r.Route(h.prefix, func(r chi.Router) {
		// base64 inflates the payload by a third
		r.Use(limitBody(2 * h.codec.MaxSize()))
		r.Post("/predict", RestHandler(h.PredictBase64))
		r.Post("/predict/tensor", RestHandler(h.PredictTensor))
		r.Get("/model", RestHandler(h.ModelInfo))
	})
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				WriteError(w, r, CodedErrorf(http.StatusBadRequest, "invalid_image",
					"%w: request body of %d bytes exceeds the %d byte limit", imageproc.ErrInvalidImage, r.ContentLength, n))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

type HealthResponse struct {
	Status        string  `json:"status"`
	IsModelLoaded bool    `json:"is_model_loaded"`
	Timestamp     string  `json:"timestamp"`
	Uptime        float64 `json:"uptime"`
	Environment   string  `json:"environment"`
}

// Health reports liveness. It never triggers a model load.
func (h *Handler) Health(r *http.Request) (any, error) {
	return HealthResponse{
		Status:        "healthy",
		IsModelLoaded: h.adapter.IsLoaded(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Uptime:        time.Since(h.startTime).Seconds(),
		Environment:   h.environment,
	}, nil
}

// PredictUpload classifies the first file part of a multipart upload,
// whatever its field name.
func (h *Handler) PredictUpload(r *http.Request) (any, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid_request", "expected a multipart/form-data upload: %v", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid_request", "No file received")
		}
		if err != nil {
			return nil, classifyBodyError(err)
		}

		filename := part.FileName()
		if filename == "" {
			part.Close()
			continue
		}

		slog.Info("received file upload", "filename", filename, "content_type", part.Header.Get("Content-Type"))

		// Browser Blob uploads arrive named "blob"; the content sniff in
		// Decode still applies to them.
		if filepath.Ext(filename) != "" {
			if err := h.codec.CheckExtension(filename); err != nil {
				h.metrics.ObserveError("invalid_image")
				return nil, err
			}
		}

		// one byte past the limit is enough to know it is too large
		data, err := io.ReadAll(io.LimitReader(part, h.codec.MaxSize()+1))
		part.Close()
		if err != nil {
			return nil, classifyBodyError(err)
		}

		img, err := h.decode(data)
		if err != nil {
			return nil, err
		}
		return h.adapter.Predict(r.Context(), img)
	}
}

type PredictionRequest struct {
	Image                string `json:"image"`
	IncludeProbabilities *bool  `json:"include_probabilities"`
}

type PredictionResponse struct {
	PredictionID       string             `json:"prediction_id"`
	PredictedClass     string             `json:"predicted_class"`
	Confidence         float32            `json:"confidence"`
	ClassProbabilities map[string]float32 `json:"class_probabilities,omitempty"`
	PredictionTime     float64            `json:"prediction_time"`
	Timestamp          string             `json:"timestamp"`
}

// PredictBase64 classifies a base64 encoded image or data URL.
func (h *Handler) PredictBase64(r *http.Request) (any, error) {
	start := time.Now()

	req, err := ParseRequest[PredictionRequest](r)
	if err != nil {
		return nil, err
	}

	data, err := decodeBase64Image(req.Image)
	if err != nil {
		h.metrics.ObserveError("invalid_image")
		return nil, err
	}

	img, err := h.decode(data)
	if err != nil {
		return nil, err
	}

	result, err := h.adapter.Predict(r.Context(), img)
	if err != nil {
		return nil, err
	}

	res := PredictionResponse{
		PredictionID:   uuid.New().String(),
		PredictedClass: result.PredictedClass,
		Confidence:     result.Confidence,
		PredictionTime: time.Since(start).Seconds(),
		Timestamp:      time.Now().Format(time.RFC3339),
	}
	if req.IncludeProbabilities == nil || *req.IncludeProbabilities {
		res.ClassProbabilities = result.ConfidenceScores
	}
	return res, nil
}

type TensorRequest struct {
	Image []float32 `json:"image"`
}

// PredictTensor classifies an already preprocessed (H, W, 3) array in
// row-major order.
func (h *Handler) PredictTensor(r *http.Request) (any, error) {
	req, err := ParseRequest[TensorRequest](r)
	if err != nil {
		return nil, err
	}

	size := h.adapter.Profile().InputSize
	expected := size.Height * size.Width * imageproc.Channels
	if len(req.Image) != expected {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid_request", "Expected %d values, got %d", expected, len(req.Image))
	}

	result, err := h.adapter.PredictTensor(r.Context(), imageproc.NewTensor(size.Height, size.Width, req.Image))
	if errors.Is(err, imageproc.ErrValidation) {
		// the caller built this tensor
		return nil, CodedError(http.StatusBadRequest, "validation_error", err)
	}
	return result, err
}

type ModelInfoResponse struct {
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	LastUpdated      string   `json:"last_updated"`
	InputShape       []int64  `json:"input_shape"`
	Classes          []string `json:"classes"`
	ArchitectureType string   `json:"architecture_type"`
	TotalPredictions uint64   `json:"total_predictions"`
}

func (h *Handler) ModelInfo(r *http.Request) (any, error) {
	profile := h.adapter.Profile()

	updated := h.modelUpdated
	if updated.IsZero() {
		updated = h.adapter.LoadedAt()
	}
	var lastUpdated string
	if !updated.IsZero() {
		lastUpdated = updated.Format(time.RFC3339)
	}

	return ModelInfoResponse{
		Name:             profile.Name,
		Version:          h.modelVersion,
		LastUpdated:      lastUpdated,
		InputShape:       profile.InputShape(),
		Classes:          profile.Labels,
		ArchitectureType: profile.Architecture,
		TotalPredictions: h.adapter.Stats().TotalPredictions,
	}, nil
}

func (h *Handler) decode(data []byte) (*imageproc.DecodedImage, error) {
	img, err := h.codec.Decode(data)
	if err != nil {
		h.metrics.ObserveError("invalid_image")
		return nil, err
	}
	slog.Debug("decoded image", "format", img.Format, "width", img.Width(), "height", img.Height())
	return img, nil
}

func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid_image", "%w: empty image string", imageproc.ErrInvalidImage)
	}
	if strings.HasPrefix(s, "data:") {
		meta, payload, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid_image", "%w: data URL must be base64 encoded", imageproc.ErrInvalidImage)
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rerr := base64.RawStdEncoding.DecodeString(s); rerr == nil {
			return raw, nil
		}
		return nil, CodedErrorf(http.StatusBadRequest, "invalid_image", "%w: invalid base64 image: %v", imageproc.ErrInvalidImage, err)
	}
	return data, nil
}

func classifyBodyError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return CodedErrorf(http.StatusBadRequest, "invalid_request", "unable to read upload: %v", err)
}
