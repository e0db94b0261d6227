package locksweep

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slotpay/internal/metrics"
	"slotpay/internal/workers"

	"github.com/robfig/cron/v3"
)

// Sweeper is a lock map that can forget idle keys.
type Sweeper interface {
	Sweep(ttl time.Duration) int
	Len() int
}

// Worker drops lock entries that have been idle for longer than ttl.
type Worker struct {
	maps     map[string]Sweeper
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
	once     sync.Once
}

func NewWorker(maps map[string]Sweeper, interval, ttl time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		maps:     maps,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		cron:     workers.NewCron(logger),
	}
}

func (w *Worker) Name() string {
	return "lock-sweep"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() { w.RunOnce() })
	if err != nil {
		return fmt.Errorf("failed to schedule lock sweep worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Lock sweep worker started", "interval", w.interval.String(), "ttl", w.ttl.String())
	return nil
}

func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("Stopping lock sweep worker")
		<-w.cron.Stop().Done()
	})
}

// RunOnce sweeps every map and returns the total number of dropped entries.
func (w *Worker) RunOnce() int {
	removed, remaining := 0, 0
	for name, m := range w.maps {
		n := m.Sweep(w.ttl)
		removed += n
		remaining += m.Len()
		if n > 0 {
			w.logger.Debug("Swept idle locks", "map", name, "removed", n)
		}
	}
	metrics.LockEntries.Set(float64(remaining))
	return removed
}
