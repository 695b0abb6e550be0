// Package predict provides clients for the prediction engine used by the
// forecast generator: an HTTP client for a hosted model service and a local
// least-squares fallback.
package predict

import "context"

// Predictor produces a single predicted value for a model type.
type Predictor interface {
	Predict(ctx context.Context, req Request) (*Prediction, error)
}

// Request is the engine's input envelope.
type Request struct {
	ModelType string         `json:"model_type"`
	Input     map[string]any `json:"input"`
	Options   map[string]any `json:"options,omitempty"`
}

// Prediction is the engine's answer. Confidence is nil when the engine does
// not report one.
type Prediction struct {
	Value      float64  `json:"prediction"`
	Confidence *float64 `json:"confidence,omitempty"`
}
