package reservations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"slotpay/internal/metrics"
	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Service struct {
	storage    Storage
	tracker    SlotTracker
	policy     ExpirationPolicy
	locks      IdentityLocker
	orderPrice int64
	logger     *slog.Logger
}

func NewService(storage Storage, tracker SlotTracker, policy ExpirationPolicy, locks IdentityLocker, orderPrice int64, logger *slog.Logger) *Service {
	return &Service{
		storage:    storage,
		tracker:    tracker,
		policy:     policy,
		locks:      locks,
		orderPrice: orderPrice,
		logger:     logger,
	}
}

// Reserve creates a pending order in the requested slot.
func (s *Service) Reserve(ctx context.Context, req Request) (*orders.Order, error) {
	order, err := s.reserve(ctx, req)
	metrics.Reservations.WithLabelValues(reservationResult(err)).Inc()
	return order, err
}

func reservationResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, orders.ErrSlotFull):
		return "slot_full"
	case errors.Is(err, orders.ErrAlreadyOrdered):
		return "already_ordered"
	case errors.Is(err, orders.ErrReservationInProgress):
		return "in_progress"
	case errors.Is(err, orders.ErrInvalidSlot), errors.Is(err, orders.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) reserve(ctx context.Context, req Request) (*orders.Order, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	identity, err := orders.NormalizeIdentity(req.Email)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	existing, err := s.storage.GetOrder(ctx, orders.GetCriteria{
		Identity: &identity,
		Statuses: orders.LiveStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get live order")
	}

	if existing != nil {
		switch {
		case existing.IsCompleted():
			return nil, orders.ErrAlreadyOrdered
		case !s.policy.IsStale(existing):
			return nil, orders.ErrReservationInProgress
		}

		// Старый заказ протух - освобождаем слот перед новой попыткой
		released, err := s.policy.ClearIfStale(ctx, existing.ID)
		if err != nil {
			return nil, errors.Wrap(err, "clear stale order")
		}
		if !released {
			// заказ успели оплатить или освободить, пока мы ждали блокировку
			current, err := s.storage.GetOrder(ctx, orders.GetCriteria{ID: &existing.ID})
			if err != nil {
				return nil, errors.Wrap(err, "reload order")
			}
			if current != nil && current.IsCompleted() {
				return nil, orders.ErrAlreadyOrdered
			}
		}
	}

	order := orders.Order{
		Identity:    identity,
		Email:       strings.TrimSpace(req.Email),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Phone:       req.Phone,
		SlotStart:   req.SlotStart,
		Selection:   req.Selection,
		TotalAmount: s.orderPrice,
		ExpiresAt:   lo.ToPtr(s.policy.NewExpiry()),
	}

	var created *orders.Order
	reserved, err := s.tracker.TryReserve(ctx, req.SlotStart, func(ctx context.Context) error {
		created, err = s.storage.CreateOrder(ctx, order)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "reserve slot")
	}
	if !reserved {
		s.logger.Info("Slot is full", "slot", req.SlotStart, "identity", identity)
		return nil, orders.ErrSlotFull
	}

	s.logger.Info("Reservation created",
		"order_id", created.ID,
		"slot", created.SlotStart,
		"identity", identity,
		"expires_at", created.ExpiresAt,
	)

	return created, nil
}

// GetByStatusToken looks an order up by its public token.
func (s *Service) GetByStatusToken(ctx context.Context, token string) (*orders.Order, error) {
	if token == "" {
		return nil, orders.ErrOrderNotFound
	}

	order, err := s.storage.GetOrder(ctx, orders.GetCriteria{StatusToken: &token})
	if err != nil {
		return nil, errors.Wrap(err, "get order by status token")
	}
	if order == nil {
		return nil, orders.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	order, err := s.storage.GetOrder(ctx, orders.GetCriteria{ID: &id})
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if order == nil {
		return nil, orders.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) validate(req Request) error {
	if strings.TrimSpace(req.SlotStart) == "" {
		return fmt.Errorf("%w: empty slot", orders.ErrInvalidSlot)
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return fmt.Errorf("%w: name is required", orders.ErrInvalidRequest)
	}
	if len(req.Selection) == 0 {
		return fmt.Errorf("%w: selection is empty", orders.ErrInvalidRequest)
	}
	if s.orderPrice <= 0 {
		return fmt.Errorf("%w: order price is not configured", orders.ErrInvalidRequest)
	}
	return nil
}
