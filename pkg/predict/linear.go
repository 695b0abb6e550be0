package predict

import (
	"context"

	"github.com/rotisserie/eris"
)

// Linear is an in-process Predictor. It fits an ordinary least-squares line
// through Input["historical"] and extrapolates one step ahead. Without
// history it returns Input["current"] unchanged.
type Linear struct {
	// Confidence is reported with every prediction. Zero leaves it unset.
	Confidence float64
}

// Compile-time interface check
var _ Predictor = Linear{}

// Predict implements Predictor.
func (l Linear) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conf *float64
	if l.Confidence > 0 {
		c := l.Confidence
		conf = &c
	}

	hist := floats(req.Input["historical"])
	switch {
	case len(hist) >= 2:
		return &Prediction{Value: extrapolate(hist), Confidence: conf}, nil
	case len(hist) == 1:
		return &Prediction{Value: hist[0], Confidence: conf}, nil
	}

	if cur, ok := number(req.Input["current"]); ok {
		return &Prediction{Value: cur, Confidence: conf}, nil
	}
	return nil, eris.Errorf("predict: %s input has neither historical nor current", req.ModelType)
}

// extrapolate fits y = a + b*x for x = 0..n-1 and evaluates at x = n.
func extrapolate(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / n
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	return intercept + slope*n
}

func floats(v any) []float64 {
	switch s := v.(type) {
	case []float64:
		return s
	case []any:
		out := make([]float64, 0, len(s))
		for _, e := range s {
			if f, ok := number(e); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
