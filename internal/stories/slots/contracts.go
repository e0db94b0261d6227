package slots

import (
	"context"

	"slotpay/internal/stories/orders"
)

type (
	Storage interface {
		ListOrders(ctx context.Context, criteria orders.ListCriteria) ([]*orders.Order, error)
	}

	// OccupancyPolicy tells whether an order still takes a unit of capacity.
	OccupancyPolicy interface {
		Occupies(o *orders.Order) bool
	}

	TxManager = func(ctx context.Context, fn func(ctx context.Context) error) error
)
