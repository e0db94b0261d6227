package payment

import (
	"context"
	"time"

	"slotpay/internal/stories/orders"
)

type (
	// Storage provides database operations for orders being paid
	Storage interface {
		GetOrder(ctx context.Context, criteria orders.GetCriteria) (*orders.Order, error)
		MarkOrderCompleted(ctx context.Context, id int64, params orders.CompleteParams) (bool, error)
		SetPaymentIntent(ctx context.Context, id int64, intentID string) (bool, error)
		SetStatusToken(ctx context.Context, id int64, token string) error
		MarkRefundNotified(ctx context.Context, id int64) (bool, error)
	}

	// Gateway is the external payment provider
	Gateway interface {
		CreateCheckoutIntent(ctx context.Context, req CheckoutIntentRequest) (*CheckoutIntent, error)
		GetIntentStatus(ctx context.Context, intentID string) (*IntentStatus, error)
		ParseWebhook(body []byte) (*WebhookEvent, error)
	}

	SlotTracker interface {
		TryReserve(ctx context.Context, slotStart string, hold func(ctx context.Context) error) (bool, error)
	}

	ExpirationPolicy interface {
		Now() time.Time
		IsStale(o *orders.Order) bool
		CheckPayable(o *orders.Order) error
		ClearIfStale(ctx context.Context, orderID int64) (bool, error)
		RecordFailedAttempt(ctx context.Context, orderID int64) (*orders.Order, error)
	}

	// Locker serializes work on one order
	Locker interface {
		Lock(orderID int64) (unlock func())
	}

	// Notifier is told once about every newly completed order, and about
	// payments that arrived for an order that can no longer be honoured.
	Notifier interface {
		NotifyCompletion(ctx context.Context, orderID int64) error
		NotifyRefund(ctx context.Context, orderID int64) error
	}

	Completer interface {
		CompletePayment(ctx context.Context, orderID int64, intentID string, source Source) (bool, error)
	}
)
