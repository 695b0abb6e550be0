package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/config"
	"github.com/sells-group/pulse/internal/store"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 100

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = time.Minute
)

// Notifier delivers the payload of each notification on channel until ctx
// is cancelled.
type Notifier interface {
	Listen(ctx context.Context, channel string, handle func(payload string)) error
}

// Listener feeds the router from Postgres notifications and a polling loop.
// The poll picks up the backlog at startup and anything a dropped
// connection missed.
type Listener struct {
	router   *Router
	notifier Notifier
	interval time.Duration
	batch    int
}

// NewListener creates a Listener. notifier may be nil to poll only.
func NewListener(r *Router, n Notifier, cfg config.EventsConfig) *Listener {
	l := &Listener{
		router:   r,
		notifier: n,
		interval: time.Duration(cfg.PollIntervalSecs) * time.Second,
		batch:    cfg.BatchSize,
	}
	if l.interval <= 0 {
		l.interval = defaultPollInterval
	}
	if l.batch <= 0 {
		l.batch = defaultBatchSize
	}
	return l
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "orchestrator.listener"))
	log.Info("starting event listener",
		zap.Bool("notifications", l.notifier != nil),
		zap.Duration("poll_interval", l.interval),
	)

	var wg sync.WaitGroup
	if l.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.listen(ctx, log)
		}()
	}

	l.poll(ctx, log)
	wg.Wait()
	log.Info("event listener stopped")
}

// listen keeps a LISTEN session open, reconnecting with backoff.
func (l *Listener) listen(ctx context.Context, log *zap.Logger) {
	delay := reconnectDelay
	for {
		err := l.notifier.Listen(ctx, store.EventsChannel, func(id string) {
			if _, err := l.router.Process(ctx, id); err != nil {
				log.Warn("orchestrator: notified event not processed", zap.String("event_id", id), zap.Error(err))
			}
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn("orchestrator: listen interrupted, reconnecting", zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (l *Listener) poll(ctx context.Context, log *zap.Logger) {
	l.drain(ctx, log)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx, log)
		}
	}
}

// drain processes full batches until the backlog is shorter than one batch.
func (l *Listener) drain(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		counts, err := l.router.ProcessPending(ctx, l.batch)
		if err != nil {
			log.Error("orchestrator: poll failed", zap.Error(err))
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if total > 0 {
			log.Info("orchestrator: poll processed events",
				zap.Int("processed", counts[OutcomeProcessed]),
				zap.Int("failed", counts[OutcomeFailed]),
				zap.Int("skipped", counts[OutcomeSkipped]),
			)
		}
		if total < l.batch || counts[OutcomeProcessed]+counts[OutcomeFailed] == 0 {
			return
		}
	}
}
