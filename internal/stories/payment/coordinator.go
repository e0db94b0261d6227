package payment

import (
	"context"
	"fmt"
	"log/slog"

	"slotpay/internal/metrics"
	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator is the only code path that moves an order from pending to
// completed. Polling, webhooks and the reconciliation poller all end here.
type Coordinator struct {
	storage  Storage
	tracker  SlotTracker
	policy   ExpirationPolicy
	locks    Locker
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewCoordinator(storage Storage, tracker SlotTracker, policy ExpirationPolicy, locks Locker, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		storage:  storage,
		tracker:  tracker,
		policy:   policy,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("slotpay/payment"),
	}
}

// CompletePayment marks the order paid. It returns true only for the call that
// actually performed the transition; every later or concurrent call gets false.
// The notifier is called by that single caller, after the order lock is released.
func (c *Coordinator) CompletePayment(ctx context.Context, orderID int64, intentID string, source Source) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "payment.CompletePayment", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("payment.source", string(source)),
	))
	defer span.End()

	completed, err := c.complete(ctx, orderID, intentID, source)
	if err != nil {
		metrics.Completions.WithLabelValues(string(source), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if needsRefund(err) {
			if alertErr := c.alertRefund(ctx, orderID); alertErr != nil {
				c.logger.Error("Failed to record refund alert", "order_id", orderID, "error", alertErr)
				return false, fmt.Errorf("%w (%w: %v)", err, ErrRefundNotRecorded, alertErr)
			}
		}
		return false, err
	}
	if !completed {
		metrics.Completions.WithLabelValues(string(source), "noop").Inc()
		return false, nil
	}

	metrics.Completions.WithLabelValues(string(source), "completed").Inc()
	c.logger.Info("Order payment completed",
		"order_id", orderID,
		"intent_id", intentID,
		"source", source,
	)

	if err := c.notifier.NotifyCompletion(ctx, orderID); err != nil {
		c.logger.Error("Failed to trigger completion notification", "order_id", orderID, "error", err)
	}

	return true, nil
}

// alertRefund tells staff about money that cannot be kept, at most once per order.
func (c *Coordinator) alertRefund(ctx context.Context, orderID int64) error {
	first, err := c.storage.MarkRefundNotified(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "mark refund notified")
	}
	if !first {
		return nil
	}

	if err := c.notifier.NotifyRefund(ctx, orderID); err != nil {
		c.logger.Error("Failed to trigger refund notification", "order_id", orderID, "error", err)
	}
	return nil
}

// needsRefund reports whether a completion failed after the payer was charged.
func needsRefund(err error) bool {
	return errors.Is(err, orders.ErrOrderReleased) || errors.Is(err, orders.ErrReservationExpired)
}

func (c *Coordinator) complete(ctx context.Context, orderID int64, intentID string, source Source) (bool, error) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	// Перечитываем заказ уже под блокировкой
	order, err := c.storage.GetOrder(ctx, orders.GetCriteria{ID: lo.ToPtr(orderID)})
	if err != nil {
		return false, errors.Wrap(err, "get order")
	}
	if order == nil {
		return false, orders.ErrOrderNotFound
	}

	switch order.PaymentStatus {
	case orders.StatusCompleted:
		return false, nil
	case orders.StatusFailed:
		c.logger.Error("Payment received for a released order, refund required",
			"order_id", orderID,
			"intent_id", intentID,
			"source", source,
			"failure_reason", lo.FromPtr(order.FailureReason),
		)
		return false, orders.ErrOrderReleased
	}

	if intentID == "" {
		intentID = lo.FromPtr(order.PaymentIntentID)
	}

	token := lo.FromPtr(order.StatusToken)
	if token == "" {
		token, err = orders.NewStatusToken()
		if err != nil {
			return false, errors.Wrap(err, "generate status token")
		}
	}

	params := orders.CompleteParams{
		PaymentIntentID: intentID,
		PaymentDate:     c.policy.Now(),
		StatusToken:     token,
	}

	if !c.policy.IsStale(order) {
		done, err := c.storage.MarkOrderCompleted(ctx, orderID, params)
		if err != nil {
			return false, errors.Wrap(err, "mark order completed")
		}
		return done, nil
	}

	// Оплата пришла после истечения брони: слот мог уже уйти другому,
	// поэтому проходим через трекер как новая бронь.
	var done bool
	reserved, err := c.tracker.TryReserve(ctx, order.SlotStart, func(ctx context.Context) error {
		var err error
		done, err = c.storage.MarkOrderCompleted(ctx, orderID, params)
		return err
	})
	if err != nil {
		return false, errors.Wrap(err, "re-admit late payment")
	}
	if !reserved {
		c.logger.Error("Late payment for a full slot, refund required",
			"order_id", orderID,
			"intent_id", intentID,
			"slot", order.SlotStart,
			"source", source,
		)
		return false, orders.ErrReservationExpired
	}

	c.logger.Warn("Late payment accepted", "order_id", orderID, "slot", order.SlotStart)
	return done, nil
}
