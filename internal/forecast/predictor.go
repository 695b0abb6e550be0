package forecast

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/resilience"
	"github.com/sells-group/pulse/pkg/predict"
)

// NewPredictor returns the hosted engine client when a URL is configured,
// otherwise the in-process linear model.
func NewPredictor(cfg config.PredictConfig, breakers *resilience.Breakers) predict.Predictor {
	if cfg.URL == "" {
		zap.L().Info("forecast: no prediction engine configured, using linear model")
		return predict.Linear{}
	}
	return predict.NewHTTPClient(cfg.URL, cfg.Key, predict.WithGuard(resilience.Guard{
		Limiter: resilience.NewLimiter(cfg.RequestsPerSec),
		Breaker: breakers.Get("predict"),
		Retry:   resilience.RetryConfig{OnRetry: resilience.RetryLogger("predict", "predict")},
		Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}))
}
