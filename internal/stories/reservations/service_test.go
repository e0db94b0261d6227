package reservations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"slotpay/internal/infra/sqlite3"
	"slotpay/internal/keylock"
	"slotpay/internal/storage"
	"slotpay/internal/storage/storagetest"
	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/slots"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	service *Service
	tracker *slots.Tracker
	store   interface {
		orders.Storage
		MarkOrderCompleted(ctx context.Context, id int64, params orders.CompleteParams) (bool, error)
	}
	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func setupService(t *testing.T, capacity int) *fixture {
	t.Helper()

	db := storagetest.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	store := storage.New(db.DB).WithClock(f.clock)
	policy := orders.NewExpirationPolicy(store, keylock.New[int64](), time.Hour, 3, logger).WithClock(f.clock)
	schedule, err := slots.DefaultSchedule(capacity)
	require.NoError(t, err)
	f.tracker = slots.NewTracker(schedule, store, policy, sqlite3.WithTx(db.DB, nil))
	f.service = NewService(store, f.tracker, policy, keylock.New[string](), 1500, logger)
	f.store = store

	return f
}

func request(email, slot string) Request {
	return Request{
		SlotStart: slot,
		Email:     email,
		FirstName: "Grace",
		LastName:  "Hopper",
		Selection: []string{"menu:veggie"},
	}
}

func TestReserveCapacityScenario(t *testing.T) {
	f := setupService(t, 30)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 31)
	created := make([]*orders.Order, 31)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created[i], results[i] = f.service.Reserve(ctx, request(fmt.Sprintf("guest%d@example.com", i), "12:00"))
		}(i)
	}
	wg.Wait()

	var ok, full int
	var first *orders.Order
	for i, err := range results {
		switch {
		case err == nil:
			ok++
			if first == nil {
				first = created[i]
			}
		case errors.Is(err, orders.ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 30, ok)
	require.Equal(t, 1, full)

	_, err := f.service.Reserve(ctx, request("latecomer@example.com", "12:00"))
	require.ErrorIs(t, err, orders.ErrSlotFull)

	// everyone but the first guest pays
	for i, o := range created {
		if o == nil || o.ID == first.ID {
			continue
		}
		done, err := f.store.MarkOrderCompleted(ctx, o.ID, orders.CompleteParams{
			PaymentIntentID: fmt.Sprintf("intent-%d", i),
			PaymentDate:     f.clock(),
			StatusToken:     fmt.Sprintf("token-%d", i),
		})
		require.NoError(t, err)
		require.True(t, done)
	}

	f.advance(time.Hour + time.Minute)

	late, err := f.service.Reserve(ctx, request("latecomer@example.com", "12:00"))
	require.NoError(t, err)
	require.Equal(t, "12:00", late.SlotStart)

	_, err = f.service.Reserve(ctx, request("another@example.com", "12:00"))
	require.ErrorIs(t, err, orders.ErrSlotFull)
}

func TestReserveSetsExpiryAndAmount(t *testing.T) {
	f := setupService(t, 30)

	order, err := f.service.Reserve(context.Background(), request("  Grace+lunch@Example.com ", "09:00"))
	require.NoError(t, err)
	require.Equal(t, "grace@example.com", order.Identity)
	require.Equal(t, int64(1500), order.TotalAmount)
	require.Equal(t, 0, order.PaymentAttempts)
	require.Equal(t, orders.StatusPending, order.PaymentStatus)
	require.True(t, f.clock().Add(time.Hour).Equal(*order.ExpiresAt))
}

func TestReserveOnePerIdentity(t *testing.T) {
	f := setupService(t, 30)
	ctx := context.Background()

	order, err := f.service.Reserve(ctx, request("grace@example.com", "09:00"))
	require.NoError(t, err)

	_, err = f.service.Reserve(ctx, request("GRACE+again@example.com", "10:00"))
	require.ErrorIs(t, err, orders.ErrReservationInProgress)

	_, err = f.store.MarkOrderCompleted(ctx, order.ID, orders.CompleteParams{
		PaymentIntentID: "intent-1",
		PaymentDate:     f.clock(),
		StatusToken:     "tok",
	})
	require.NoError(t, err)

	// completed orders never expire
	f.advance(48 * time.Hour)
	_, err = f.service.Reserve(ctx, request("grace@example.com", "11:00"))
	require.ErrorIs(t, err, orders.ErrAlreadyOrdered)
}

func TestReserveReplacesStaleReservation(t *testing.T) {
	tests := []struct {
		name  string
		stale func(t *testing.T, f *fixture, order *orders.Order)
	}{
		{
			name: "expired",
			stale: func(t *testing.T, f *fixture, _ *orders.Order) {
				f.advance(2 * time.Hour)
			},
		},
		{
			name: "attempts exhausted",
			stale: func(t *testing.T, f *fixture, order *orders.Order) {
				for i := 0; i < 3; i++ {
					_, err := f.store.IncrementPaymentAttempts(context.Background(), order.ID)
					require.NoError(t, err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t, 1)
			ctx := context.Background()

			first, err := f.service.Reserve(ctx, request("grace@example.com", "09:00"))
			require.NoError(t, err)

			tt.stale(t, f, first)

			second, err := f.service.Reserve(ctx, request("grace@example.com", "09:00"))
			require.NoError(t, err)
			require.NotEqual(t, first.ID, second.ID)

			old, err := f.store.GetOrder(ctx, orders.GetCriteria{ID: &first.ID})
			require.NoError(t, err)
			require.Equal(t, orders.StatusFailed, old.PaymentStatus)
			require.NotNil(t, old.FailureReason)
		})
	}
}

func TestReserveValidation(t *testing.T) {
	f := setupService(t, 30)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantErr error
	}{
		{name: "unknown slot", mutate: func(r *Request) { r.SlotStart = "07:00" }, wantErr: orders.ErrInvalidSlot},
		{name: "empty slot", mutate: func(r *Request) { r.SlotStart = "" }, wantErr: orders.ErrInvalidSlot},
		{name: "bad email", mutate: func(r *Request) { r.Email = "nope" }, wantErr: orders.ErrInvalidRequest},
		{name: "no name", mutate: func(r *Request) { r.FirstName = " " }, wantErr: orders.ErrInvalidRequest},
		{name: "empty selection", mutate: func(r *Request) { r.Selection = nil }, wantErr: orders.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("grace@example.com", "09:00")
			tt.mutate(&req)

			_, err := f.service.Reserve(ctx, req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetByStatusToken(t *testing.T) {
	f := setupService(t, 30)
	ctx := context.Background()

	order, err := f.service.Reserve(ctx, request("grace@example.com", "09:00"))
	require.NoError(t, err)
	_, err = f.store.MarkOrderCompleted(ctx, order.ID, orders.CompleteParams{
		PaymentIntentID: "intent-1",
		PaymentDate:     f.clock(),
		StatusToken:     "public-token",
	})
	require.NoError(t, err)

	got, err := f.service.GetByStatusToken(ctx, "public-token")
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)

	_, err = f.service.GetByStatusToken(ctx, "unknown")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.service.GetByStatusToken(ctx, "")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}
