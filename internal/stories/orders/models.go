package orders

import "time"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

// LiveStatuses are the statuses that hold the identity and count toward a slot.
var LiveStatuses = []PaymentStatus{StatusPending, StatusCompleted}

const (
	ReasonExpired           = "expired"
	ReasonAttemptsExhausted = "attempts_exhausted"
)

type Order struct {
	ID              int64
	Identity        string
	Email           string
	FirstName       string
	LastName        string
	Phone           *string
	SlotStart       string
	Selection       []string
	TotalAmount     int64 // в центах
	PaymentStatus   PaymentStatus
	PaymentIntentID *string
	PaymentAttempts int
	PaymentDate     *time.Time
	ExpiresAt       *time.Time // nil после оплаты
	StatusToken     *string
	FailureReason   *string
	RefundNotified  *time.Time // когда персоналу ушло уведомление о возврате
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *Order) IsCompleted() bool {
	return o.PaymentStatus == StatusCompleted
}

// IsStale reports whether a pending order ran out of time or payment attempts.
func (o *Order) IsStale(now time.Time, maxAttempts int) bool {
	return o.StaleReason(now, maxAttempts) != ""
}

// StaleReason returns why a pending order is out of contention, or "" if it is not.
func (o *Order) StaleReason(now time.Time, maxAttempts int) string {
	if o.PaymentStatus != StatusPending {
		return ""
	}
	if o.PaymentAttempts >= maxAttempts {
		return ReasonAttemptsExhausted
	}
	if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
		return ReasonExpired
	}
	return ""
}

// Occupies reports whether the order takes a unit of its slot's capacity.
func (o *Order) Occupies(now time.Time, maxAttempts int) bool {
	switch o.PaymentStatus {
	case StatusCompleted:
		return true
	case StatusPending:
		return !o.IsStale(now, maxAttempts)
	default:
		return false
	}
}

// CheckPayable returns nil when a checkout may be started for the order.
func (o *Order) CheckPayable(now time.Time, maxAttempts int) error {
	switch {
	case o.PaymentStatus == StatusCompleted:
		return ErrAlreadyPaid
	case o.PaymentStatus == StatusFailed:
		return ErrOrderReleased
	case o.IsStale(now, maxAttempts):
		return ErrReservationExpired
	}
	return nil
}

type GetCriteria struct {
	ID              *int64
	Identity        *string
	PaymentIntentID *string
	StatusToken     *string
	Statuses        []PaymentStatus
}

type ListCriteria struct {
	Statuses  []PaymentStatus
	SlotStart *string
	HasIntent *bool
	Limit     int
}

type CompleteParams struct {
	PaymentIntentID string
	PaymentDate     time.Time
	StatusToken     string
}
