package orders

import "errors"

var (
	ErrSlotFull              = errors.New("slot is full")
	ErrReservationExpired    = errors.New("reservation expired")
	ErrAlreadyOrdered        = errors.New("identity already has a paid order")
	ErrReservationInProgress = errors.New("identity already has a pending reservation")
	ErrInvalidSlot           = errors.New("invalid slot")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrOrderNotFound         = errors.New("order not found")
	ErrAlreadyPaid           = errors.New("order already paid")
	ErrOrderReleased         = errors.New("order was released")
)
