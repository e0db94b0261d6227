package expiration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slotpay/internal/workers"

	"github.com/robfig/cron/v3"
)

// Worker releases stale reservations so their identities and slots are freed
// even when nobody tries to reserve again.
type Worker struct {
	policy   Policy
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewWorker creates a new expiration worker
func NewWorker(policy Policy, interval time.Duration, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		policy:   policy,
		interval: interval,
		logger:   logger,
		cron:     workers.NewCron(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "expiration"
}

// Start starts the expiration worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		if err := w.run(w.ctx); err != nil {
			w.logger.Error("Expiration worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiration worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Expiration worker started", "interval", w.interval.String())
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("Stopping expiration worker")
		w.cancel()
		<-w.cron.Stop().Done()
	})
}

// run executes the expiration logic
func (w *Worker) run(ctx context.Context) error {
	released, err := w.policy.ReleaseStale(ctx)
	if err != nil {
		return fmt.Errorf("release stale orders: %w", err)
	}

	if released > 0 {
		w.logger.Info("Stale reservations released", "count", released)
	}
	return nil
}
