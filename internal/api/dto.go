package api

import (
	"time"

	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"
	"slotpay/internal/stories/slots"
)

type reserveRequest struct {
	Slot      string   `json:"slot" validate:"required"`
	Email     string   `json:"email" validate:"required,email,max=254"`
	FirstName string   `json:"first_name" validate:"required,max=100"`
	LastName  string   `json:"last_name" validate:"required,max=100"`
	Phone     *string  `json:"phone" validate:"omitempty,max=32"`
	Selection []string `json:"selection" validate:"required,min=1,max=20,dive,required,max=100"`
}

type slotResponse struct {
	Slot      string `json:"slot"`
	Label     string `json:"label"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
	Available bool   `json:"available"`
}

type reservationResponse struct {
	OrderID       int64                `json:"order_id"`
	Slot          string               `json:"slot"`
	TotalAmount   int64                `json:"total_amount"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
}

type checkoutResponse struct {
	OrderID     int64      `json:"order_id"`
	IntentID    string     `json:"intent_id"`
	RedirectURL string     `json:"redirect_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type paymentStatusResponse struct {
	OrderID       int64                `json:"order_id"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	StatusToken   *string              `json:"status_token,omitempty"`
	PaymentDate   *time.Time           `json:"payment_date,omitempty"`
	Live          bool                 `json:"live"`
}

type orderStatusResponse struct {
	OrderID       int64                `json:"order_id"`
	FirstName     string               `json:"first_name"`
	LastName      string               `json:"last_name"`
	Slot          string               `json:"slot"`
	Selection     []string             `json:"selection"`
	TotalAmount   int64                `json:"total_amount"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	PaymentDate   *time.Time           `json:"payment_date,omitempty"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toSlotResponse(a slots.Availability) slotResponse {
	return slotResponse{
		Slot:      a.Slot,
		Label:     a.Label,
		Capacity:  a.Capacity,
		Remaining: a.Remaining,
		Available: a.Available,
	}
}

func toReservationResponse(o *orders.Order) reservationResponse {
	return reservationResponse{
		OrderID:       o.ID,
		Slot:          o.SlotStart,
		TotalAmount:   o.TotalAmount,
		PaymentStatus: o.PaymentStatus,
		ExpiresAt:     o.ExpiresAt,
	}
}

func toCheckoutResponse(r *payment.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		OrderID:     r.OrderID,
		IntentID:    r.IntentID,
		RedirectURL: r.RedirectURL,
		ExpiresAt:   r.ExpiresAt,
	}
}

func toPaymentStatusResponse(v *payment.StatusView) paymentStatusResponse {
	return paymentStatusResponse{
		OrderID:       v.OrderID,
		PaymentStatus: v.PaymentStatus,
		StatusToken:   v.StatusToken,
		PaymentDate:   v.PaymentDate,
		Live:          v.Live,
	}
}

func toOrderStatusResponse(o *orders.Order) orderStatusResponse {
	return orderStatusResponse{
		OrderID:       o.ID,
		FirstName:     o.FirstName,
		LastName:      o.LastName,
		Slot:          o.SlotStart,
		Selection:     o.Selection,
		TotalAmount:   o.TotalAmount,
		PaymentStatus: o.PaymentStatus,
		PaymentDate:   o.PaymentDate,
	}
}
