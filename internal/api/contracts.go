package api

import (
	"context"

	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"
	"slotpay/internal/stories/reservations"
	"slotpay/internal/stories/slots"
)

type (
	SlotLister interface {
		ListSlots(ctx context.Context) ([]slots.Availability, error)
	}

	Reservations interface {
		Reserve(ctx context.Context, req reservations.Request) (*orders.Order, error)
		GetByStatusToken(ctx context.Context, token string) (*orders.Order, error)
	}

	Payments interface {
		Checkout(ctx context.Context, orderID int64) (*payment.CheckoutResult, error)
		PollStatus(ctx context.Context, intentID string) (*payment.StatusView, error)
		HandleWebhook(ctx context.Context, body []byte) error
	}
)
