package reservations

import (
	"context"
	"time"

	"slotpay/internal/stories/orders"
)

type (
	Storage interface {
		CreateOrder(ctx context.Context, order orders.Order) (*orders.Order, error)
		GetOrder(ctx context.Context, criteria orders.GetCriteria) (*orders.Order, error)
	}

	SlotTracker interface {
		TryReserve(ctx context.Context, slotStart string, hold func(ctx context.Context) error) (bool, error)
	}

	ExpirationPolicy interface {
		IsStale(o *orders.Order) bool
		ClearIfStale(ctx context.Context, orderID int64) (bool, error)
		NewExpiry() time.Time
	}

	// IdentityLocker serializes reservations made by the same person.
	IdentityLocker interface {
		Lock(identity string) (unlock func())
	}
)
