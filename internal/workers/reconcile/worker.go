package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slotpay/internal/metrics"
	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"
	"slotpay/internal/workers"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
)

// Worker periodically asks the gateway about every pending order that has a
// checkout intent. It catches payments whose webhook was lost and payers who
// never came back from the checkout page.
type Worker struct {
	storage     Storage
	gateway     Gateway
	completer   Completer
	interval    time.Duration
	itemTimeout time.Duration
	logger      *slog.Logger
	cron        *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type Summary struct {
	Checked   int
	Completed int
	Failed    int
}

// NewWorker creates a new reconciliation worker
func NewWorker(storage Storage, gateway Gateway, completer Completer, interval, itemTimeout time.Duration, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		storage:     storage,
		gateway:     gateway,
		completer:   completer,
		interval:    interval,
		itemTimeout: itemTimeout,
		logger:      logger,
		cron:        workers.NewCron(logger),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "reconcile"
}

// Start starts the reconciliation worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		summary, err := w.RunOnce(w.ctx)
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			w.logger.Error("Reconciliation run failed", "error", err)
			return
		}
		metrics.ReconcileRuns.WithLabelValues("ok").Inc()
		if summary.Checked > 0 {
			w.logger.Info("Reconciliation run finished",
				"checked", summary.Checked,
				"completed", summary.Completed,
				"failed", summary.Failed,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconcile worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Reconcile worker started", "interval", w.interval.String())
	return nil
}

// Stop cancels in-flight gateway calls and waits for the current run.
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("Stopping reconcile worker")
		w.cancel()
		<-w.cron.Stop().Done()
	})
}

// RunOnce checks every pending order with an intent. A failure on one order
// is logged and does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary

	pending, err := w.storage.ListOrders(ctx, orders.ListCriteria{
		Statuses:  []orders.PaymentStatus{orders.StatusPending},
		HasIntent: lo.ToPtr(true),
	})
	if err != nil {
		return summary, fmt.Errorf("list pending orders: %w", err)
	}

	for _, order := range pending {
		if ctx.Err() != nil {
			w.logger.Info("Reconciliation interrupted", "remaining", len(pending)-summary.Checked)
			break
		}
		summary.Checked++

		completed, err := w.check(ctx, order)
		if err != nil {
			summary.Failed++
			w.logger.Warn("Failed to reconcile order",
				"order_id", order.ID,
				"intent_id", lo.FromPtr(order.PaymentIntentID),
				"error", err,
			)
			continue
		}
		if completed {
			summary.Completed++
			metrics.ReconcileCompleted.Inc()
		}
	}

	return summary, nil
}

func (w *Worker) check(ctx context.Context, order *orders.Order) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.itemTimeout)
	defer cancel()

	intentID := lo.FromPtr(order.PaymentIntentID)
	status, err := w.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		return false, fmt.Errorf("get intent status: %w", err)
	}
	if !status.HasOrder {
		return false, nil
	}

	return w.completer.CompletePayment(ctx, order.ID, intentID, payment.SourceReconcile)
}
