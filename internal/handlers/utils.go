package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
	"github.com/Brownie44l1/dementia-api/internal/model"
)

type codedError struct {
	err  error
	code int
	kind string
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, kind string, err error) error {
	return &codedError{err: err, code: code, kind: kind}
}

func CodedErrorf(code int, kind string, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code, kind: kind}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
	ErrorCode string `json:"error_code,omitempty"`
}

// classify maps the pipeline's error taxonomy onto HTTP status codes.
func classify(err error) error {
	var cerr *codedError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &cerr):
		return err
	case errors.As(err, &maxBytes):
		return CodedErrorf(http.StatusBadRequest, "invalid_image", "%w: request body exceeds %d bytes", imageproc.ErrInvalidImage, maxBytes.Limit)
	case errors.Is(err, imageproc.ErrInvalidImage):
		return CodedError(http.StatusBadRequest, "invalid_image", err)
	case errors.Is(err, imageproc.ErrPreprocessing):
		return CodedError(http.StatusBadRequest, "preprocessing_error", err)
	case errors.Is(err, imageproc.ErrValidation):
		return CodedError(http.StatusInternalServerError, "validation_error", err)
	case errors.Is(err, model.ErrModelUnavailable):
		return CodedError(http.StatusServiceUnavailable, "model_unavailable", err)
	case errors.Is(err, model.ErrInference):
		return CodedError(http.StatusInternalServerError, "inference_error", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodedError(http.StatusServiceUnavailable, "timeout", err)
	}
	return CodedError(http.StatusInternalServerError, "internal_error", err)
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, res)
	}
}

func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *codedError
	errors.As(classify(err), &cerr)

	if cerr.code >= http.StatusInternalServerError {
		slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err)
	} else {
		slog.Warn("request rejected", "path", r.URL.Path, "status", cerr.code, "error", err)
	}

	writeJson(w, cerr.code, ErrorResponse{
		Detail:    cerr.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
		ErrorCode: cerr.kind,
	})
}

func WriteJsonResponse(w http.ResponseWriter, data any) {
	writeJson(w, http.StatusOK, data)
}

func writeJson(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return data, err
		}
		slog.Error("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "invalid_request", "unable to parse request body")
	}
	return data, nil
}
