package predict

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse/internal/resilience"
)

func fastGuard(attempts int) resilience.Guard {
	return resilience.Guard{
		Retry: resilience.RetryConfig{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func TestHTTPClient_Predict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "revenue", req.ModelType)
		assert.Len(t, req.Input["historical"], 3)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"prediction": 123.5, "confidence": 0.9}) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL+"/", "secret", WithGuard(fastGuard(1)))
	got, err := c.Predict(context.Background(), Request{
		ModelType: "revenue",
		Input:     map[string]any{"historical": []float64{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 123.5, got.Value)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 0.9, *got.Confidence)
}

func TestHTTPClient_NoConfidence(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prediction": 40}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", WithGuard(fastGuard(1)))
	got, err := c.Predict(context.Background(), Request{ModelType: "placements"})
	require.NoError(t, err)
	assert.Equal(t, 40.0, got.Value)
	assert.Nil(t, got.Confidence)
}

func TestHTTPClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"prediction": 7}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", WithGuard(fastGuard(3)))
	got, err := c.Predict(context.Background(), Request{ModelType: "productivity"})
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", WithGuard(fastGuard(3)))
	_, err := c.Predict(context.Background(), Request{ModelType: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_DecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", WithGuard(fastGuard(1)))
	_, err := c.Predict(context.Background(), Request{ModelType: "revenue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predict: decode response")
}

func TestHTTPClient_BreakerOpens(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	g := fastGuard(1)
	g.Breaker = resilience.NewCircuitBreaker("predict", resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := NewHTTPClient(ts.URL, "", WithGuard(g), WithHTTPClient(ts.Client()))

	for i := 0; i < 2; i++ {
		_, err := c.Predict(context.Background(), Request{ModelType: "revenue"})
		require.Error(t, err)
	}
	_, err := c.Predict(context.Background(), Request{ModelType: "revenue"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestLinear_Predict(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  float64
	}{
		{"rising series", map[string]any{"historical": []float64{10, 20, 30}}, 40},
		{"flat series", map[string]any{"historical": []float64{5, 5, 5, 5}}, 5},
		{"any slice", map[string]any{"historical": []any{1.0, 3, int64(5)}}, 7},
		{"single point", map[string]any{"historical": []float64{42}}, 42},
		{"current only", map[string]any{"current": 78}, 78},
		{"empty history falls back", map[string]any{"historical": []float64{}, "current": 45.0}, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Linear{}.Predict(context.Background(), Request{ModelType: "x", Input: tt.input})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.Value, 1e-9)
			assert.Nil(t, got.Confidence)
		})
	}
}

func TestLinear_Confidence(t *testing.T) {
	got, err := Linear{Confidence: 0.6}.Predict(context.Background(), Request{Input: map[string]any{"current": 1.0}})
	require.NoError(t, err)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 0.6, *got.Confidence)
}

func TestLinear_NoInput(t *testing.T) {
	_, err := Linear{}.Predict(context.Background(), Request{ModelType: "revenue"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither historical nor current")
}

func TestLinear_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Linear{}.Predict(ctx, Request{Input: map[string]any{"current": 1.0}})
	assert.ErrorIs(t, err, context.Canceled)
}
