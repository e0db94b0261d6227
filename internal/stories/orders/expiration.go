package orders

import (
	"context"
	"log/slog"
	"time"

	"slotpay/internal/metrics"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ExpirationPolicy decides when a pending order stops holding its slot and
// releases such orders.
type ExpirationPolicy struct {
	storage     Storage
	locks       Locker
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

func NewExpirationPolicy(storage Storage, locks Locker, ttl time.Duration, maxAttempts int, logger *slog.Logger) *ExpirationPolicy {
	return &ExpirationPolicy{
		storage:     storage,
		locks:       locks,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// WithClock replaces the time source. Used by tests.
func (p *ExpirationPolicy) WithClock(now func() time.Time) *ExpirationPolicy {
	p.now = now
	return p
}

func (p *ExpirationPolicy) Now() time.Time {
	return p.now()
}

func (p *ExpirationPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// NewExpiry returns the expiry for a reservation made now.
func (p *ExpirationPolicy) NewExpiry() time.Time {
	return p.now().Add(p.ttl)
}

func (p *ExpirationPolicy) IsStale(o *Order) bool {
	return o.IsStale(p.now(), p.maxAttempts)
}

func (p *ExpirationPolicy) Occupies(o *Order) bool {
	return o.Occupies(p.now(), p.maxAttempts)
}

func (p *ExpirationPolicy) CheckPayable(o *Order) error {
	return o.CheckPayable(p.now(), p.maxAttempts)
}

// ClearIfStale releases the order when it is still pending and stale. The
// order is re-read under its lock so a concurrent completion wins.
func (p *ExpirationPolicy) ClearIfStale(ctx context.Context, orderID int64) (bool, error) {
	unlock := p.locks.Lock(orderID)
	defer unlock()

	order, err := p.storage.GetOrder(ctx, GetCriteria{ID: lo.ToPtr(orderID)})
	if err != nil {
		return false, errors.Wrap(err, "get order")
	}
	if order == nil {
		return false, nil
	}

	reason := order.StaleReason(p.now(), p.maxAttempts)
	if reason == "" {
		return false, nil
	}

	released, err := p.storage.ReleaseOrder(ctx, orderID, reason)
	if err != nil {
		return false, errors.Wrap(err, "release order")
	}
	if released {
		metrics.ReleasedOrders.WithLabelValues(reason).Inc()
		p.logger.Info("Released stale reservation",
			"order_id", orderID,
			"slot", order.SlotStart,
			"reason", reason,
			"payment_attempts", order.PaymentAttempts,
		)
	}
	return released, nil
}

// RecordFailedAttempt counts a failed checkout against a pending order.
func (p *ExpirationPolicy) RecordFailedAttempt(ctx context.Context, orderID int64) (*Order, error) {
	order, err := p.storage.IncrementPaymentAttempts(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "increment payment attempts")
	}
	if order != nil && order.PaymentAttempts >= p.maxAttempts {
		p.logger.Warn("Order reached payment attempt limit",
			"order_id", orderID,
			"payment_attempts", order.PaymentAttempts,
		)
	}
	return order, nil
}

// ReleaseStale releases every stale pending order and returns how many were released.
func (p *ExpirationPolicy) ReleaseStale(ctx context.Context) (int, error) {
	pending, err := p.storage.ListOrders(ctx, ListCriteria{Statuses: []PaymentStatus{StatusPending}})
	if err != nil {
		return 0, errors.Wrap(err, "list pending orders")
	}

	released := 0
	for _, order := range lo.Filter(pending, func(o *Order, _ int) bool { return p.IsStale(o) }) {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		ok, err := p.ClearIfStale(ctx, order.ID)
		if err != nil {
			p.logger.Error("Failed to release stale order", "order_id", order.ID, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}
