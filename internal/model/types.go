package model

import "time"

// PredictionResult is the label distribution for one image.
type PredictionResult struct {
	PredictedClass   string             `json:"predicted_class"`
	ConfidenceScores map[string]float32 `json:"confidence_scores"`

	// Confidence is the probability of PredictedClass.
	Confidence float32       `json:"-"`
	Duration   time.Duration `json:"-"`
}

// Stats are cumulative counters since the adapter was created.
type Stats struct {
	TotalPredictions uint64
	TotalInference   time.Duration
}

func (s Stats) AverageInference() time.Duration {
	if s.TotalPredictions == 0 {
		return 0
	}
	return s.TotalInference / time.Duration(s.TotalPredictions)
}
