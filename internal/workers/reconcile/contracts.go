package reconcile

import (
	"context"

	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"
)

type (
	Storage interface {
		ListOrders(ctx context.Context, criteria orders.ListCriteria) ([]*orders.Order, error)
	}

	Gateway interface {
		GetIntentStatus(ctx context.Context, intentID string) (*payment.IntentStatus, error)
	}

	Completer interface {
		CompletePayment(ctx context.Context, orderID int64, intentID string, source payment.Source) (bool, error)
	}
)
