package slots

import (
	"context"
	"fmt"
	"sync"

	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Tracker enforces the per-slot capacity. Occupancy is always recounted from
// order rows; nothing is cached.
type Tracker struct {
	schedule  *Schedule
	storage   Storage
	policy    OccupancyPolicy
	txManager TxManager

	// один мьютекс на слот: SQLite сериализует запись, но не чтение перед ней
	locks map[string]*sync.Mutex
}

func NewTracker(schedule *Schedule, storage Storage, policy OccupancyPolicy, txManager TxManager) *Tracker {
	locks := make(map[string]*sync.Mutex, len(schedule.slots))
	for _, slot := range schedule.slots {
		locks[slot.Start] = &sync.Mutex{}
	}

	return &Tracker{
		schedule:  schedule,
		storage:   storage,
		policy:    policy,
		txManager: txManager,
		locks:     locks,
	}
}

func (t *Tracker) Schedule() *Schedule {
	return t.schedule
}

// ListSlots returns a read-only snapshot of every slot.
func (t *Tracker) ListSlots(ctx context.Context) ([]Availability, error) {
	live, err := t.storage.ListOrders(ctx, orders.ListCriteria{Statuses: orders.LiveStatuses})
	if err != nil {
		return nil, errors.Wrap(err, "list live orders")
	}

	occupied := lo.CountValuesBy(
		lo.Filter(live, func(o *orders.Order, _ int) bool { return t.policy.Occupies(o) }),
		func(o *orders.Order) string { return o.SlotStart },
	)

	return lo.Map(t.schedule.slots, func(slot Slot, _ int) Availability {
		return availability(slot, occupied[slot.Start])
	}), nil
}

// TryReserve runs hold inside a transaction when the slot still has room.
// A full slot returns false with nothing written.
func (t *Tracker) TryReserve(ctx context.Context, slotStart string, hold func(ctx context.Context) error) (bool, error) {
	slot, ok := t.schedule.Get(slotStart)
	if !ok {
		return false, fmt.Errorf("%w: %q", orders.ErrInvalidSlot, slotStart)
	}

	mu := t.locks[slot.Start]
	mu.Lock()
	defer mu.Unlock()

	reserved := false
	err := t.txManager(ctx, func(ctx context.Context) error {
		occupied, err := t.count(ctx, slot.Start)
		if err != nil {
			return err
		}
		if occupied >= slot.Capacity {
			return nil
		}

		if err := hold(ctx); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return reserved, nil
}

func (t *Tracker) count(ctx context.Context, slotStart string) (int, error) {
	live, err := t.storage.ListOrders(ctx, orders.ListCriteria{
		Statuses:  orders.LiveStatuses,
		SlotStart: &slotStart,
	})
	if err != nil {
		return 0, errors.Wrap(err, "count slot occupants")
	}

	return lo.CountBy(live, func(o *orders.Order) bool { return t.policy.Occupies(o) }), nil
}

func availability(slot Slot, occupied int) Availability {
	remaining := max(slot.Capacity-occupied, 0)
	return Availability{
		Slot:      slot.Start,
		Label:     slot.Label(),
		Capacity:  slot.Capacity,
		Occupied:  occupied,
		Remaining: remaining,
		Available: remaining > 0,
	}
}
