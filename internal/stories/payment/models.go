package payment

import (
	"time"

	"slotpay/internal/stories/orders"
)

// Source names the channel that triggered a completion.
type Source string

const (
	SourcePolling   Source = "polling"
	SourceWebhook   Source = "webhook"
	SourceReconcile Source = "reconcile"
	SourceCheckout  Source = "checkout"
)

const MetadataOrderID = "order_id"

type Payer struct {
	FirstName string
	LastName  string
	Email     string
}

type CheckoutIntentRequest struct {
	TotalAmount int64 // в центах
	ItemName    string
	Payer       Payer
	BackURL     string
	ErrorURL    string
	ReturnURL   string
	Metadata    map[string]string
}

type CheckoutIntent struct {
	ID          string
	RedirectURL string
}

// IntentStatus is what the gateway knows about a checkout intent. HasOrder is
// set once the payer actually paid.
type IntentStatus struct {
	IntentID string
	HasOrder bool
	OrderID  string
	State    string
	Amount   int64
	Metadata map[string]string
}

type WebhookEvent struct {
	EventType string
	IntentID  string
	OrderID   string
	State     string
	Metadata  map[string]string
}

// IsPayment reports whether the event can carry a completed payment.
func (e WebhookEvent) IsPayment() bool {
	switch e.EventType {
	case "Payment", "Order", "payment.succeeded":
		return true
	}
	return false
}

type CheckoutResult struct {
	OrderID     int64
	IntentID    string
	RedirectURL string
	ExpiresAt   *time.Time
}

type StatusView struct {
	OrderID       int64
	PaymentStatus orders.PaymentStatus
	StatusToken   *string
	PaymentDate   *time.Time
	// Live is false when the gateway could not be asked and the stored status is returned.
	Live bool
}

func newStatusView(order *orders.Order, live bool) *StatusView {
	view := &StatusView{
		OrderID:       order.ID,
		PaymentStatus: order.PaymentStatus,
		PaymentDate:   order.PaymentDate,
		Live:          live,
	}
	if order.IsCompleted() {
		view.StatusToken = order.StatusToken
	}
	return view
}
