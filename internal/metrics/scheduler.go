package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/telemetry"
)

// Scheduler drives the three collection tiers on their own tickers.
type Scheduler struct {
	collector *Collector
	intervals map[Tier]time.Duration
	running   map[Tier]*atomic.Bool
	metrics   *telemetry.Metrics

	// AfterFrequent runs after every frequent-tier cycle, e.g. KPI calculation.
	AfterFrequent func(ctx context.Context)

	inflight sync.WaitGroup
}

// NewScheduler creates a Scheduler with intervals from cfg. Non-positive
// intervals fall back to 1 min, 15 min and 60 min.
func NewScheduler(c *Collector, cfg config.CollectorConfig, m *telemetry.Metrics) *Scheduler {
	secs := func(v int, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return time.Duration(v) * time.Second
	}
	s := &Scheduler{
		collector: c,
		intervals: map[Tier]time.Duration{
			TierRealtime: secs(cfg.RealtimeIntervalSecs, time.Minute),
			TierFrequent: secs(cfg.FrequentIntervalSecs, 15*time.Minute),
			TierHourly:   secs(cfg.HourlyIntervalSecs, time.Hour),
		},
		running: make(map[Tier]*atomic.Bool, len(Tiers)),
		metrics: m,
	}
	for _, t := range Tiers {
		s.running[t] = new(atomic.Bool)
	}
	return s
}

// Interval returns the configured period of tier.
func (s *Scheduler) Interval(t Tier) time.Duration { return s.intervals[t] }

// Run collects every tier once immediately and then on each tick. It
// blocks until ctx is cancelled and in-flight cycles have finished.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "metrics.scheduler"))
	log.Info("starting metrics scheduler",
		zap.Duration("realtime", s.intervals[TierRealtime]),
		zap.Duration("frequent", s.intervals[TierFrequent]),
		zap.Duration("hourly", s.intervals[TierHourly]),
	)

	var loops sync.WaitGroup
	for _, t := range Tiers {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, t, log)
		}()
	}
	loops.Wait()
	s.inflight.Wait()
	log.Info("metrics scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, tier Tier, log *zap.Logger) {
	s.trigger(ctx, tier, log)

	ticker := time.NewTicker(s.intervals[tier])
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, tier, log)
		}
	}
}

// trigger starts a cycle for tier unless the previous one is still running.
// It reports whether a cycle was started.
func (s *Scheduler) trigger(ctx context.Context, tier Tier, log *zap.Logger) bool {
	flag := s.running[tier]
	if !flag.CompareAndSwap(false, true) {
		log.Warn("metrics: previous cycle still running, skipping tick", zap.String("tier", string(tier)))
		s.metrics.RecordCycle(string(tier), "skipped")
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer flag.Store(false)

		rep := s.collector.CollectTier(ctx, tier)
		s.metrics.RecordCycle(string(tier), rep.Status())

		if tier == TierFrequent && s.AfterFrequent != nil && ctx.Err() == nil {
			s.AfterFrequent(ctx)
		}
	}()
	return true
}
