package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/resilience"
)

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithGuard sets the rate limiter, breaker, retry and timeout policy.
func WithGuard(g resilience.Guard) Option {
	return func(c *HTTPClient) {
		c.guard = g
	}
}

// HTTPClient posts requests to <baseURL>/predict.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	guard   resilience.Guard
}

// Compile-time interface check
var _ Predictor = (*HTTPClient)(nil)

// NewHTTPClient creates a prediction engine client.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict sends req to the engine. 408, 429 and 5xx responses are retried
// according to the client's guard.
func (c *HTTPClient) Predict(ctx context.Context, req Request) (*Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "predict: marshal request")
	}
	return resilience.Call(ctx, c.guard, func(ctx context.Context) (*Prediction, error) {
		return c.do(ctx, body)
	})
}

func (c *HTTPClient) do(ctx context.Context, body []byte) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "predict: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "predict: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "predict: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("predict: unexpected status %d: %s", resp.StatusCode, string(data))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var out Prediction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "predict: decode response")
	}
	return &out, nil
}
