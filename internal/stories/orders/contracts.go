package orders

import "context"

type (
	Storage interface {
		GetOrder(ctx context.Context, criteria GetCriteria) (*Order, error)
		ListOrders(ctx context.Context, criteria ListCriteria) ([]*Order, error)
		ReleaseOrder(ctx context.Context, id int64, reason string) (bool, error)
		IncrementPaymentAttempts(ctx context.Context, id int64) (*Order, error)
	}

	// Locker serializes work on a single order.
	Locker interface {
		Lock(orderID int64) (unlock func())
	}
)
