package notify

import (
	"context"

	"slotpay/internal/stories/orders"
)

type (
	Storage interface {
		GetOrder(ctx context.Context, criteria orders.GetCriteria) (*orders.Order, error)
	}

	// Sender delivers a rendered message to the staff channel
	Sender interface {
		Send(ctx context.Context, text string) error
	}

	Translator interface {
		Get(lang, key string, params map[string]interface{}) string
	}
)
