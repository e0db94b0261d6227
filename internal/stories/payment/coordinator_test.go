package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"slotpay/internal/keylock"
	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCompletePaymentConcurrentCallsCompleteOnce(t *testing.T) {
	f := setupFixture(t, 30)
	order := f.reserve(t, "alan@example.com", "12:00")

	const callers = 12
	sources := []Source{SourcePolling, SourceWebhook, SourceReconcile}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := f.coordinator.CompletePayment(context.Background(), order.ID, "intent-1", sources[i%len(sources)])
			if err != nil {
				t.Errorf("complete: %v", err)
				return
			}
			if done {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, fresh)
	require.Equal(t, 1, f.notifier.count(order.ID))

	got := f.order(t, order.ID)
	require.Equal(t, orders.StatusCompleted, got.PaymentStatus)
	require.Equal(t, "intent-1", *got.PaymentIntentID)
	require.NotNil(t, got.PaymentDate)
	require.NotNil(t, got.StatusToken)
	require.Len(t, *got.StatusToken, 43)
	require.Nil(t, got.ExpiresAt)
}

func TestCompletePaymentTerminalStateIsFrozen(t *testing.T) {
	f := setupFixture(t, 30)
	ctx := context.Background()
	order := f.reserve(t, "alan@example.com", "12:00")

	done, err := f.coordinator.CompletePayment(ctx, order.ID, "intent-1", SourceWebhook)
	require.NoError(t, err)
	require.True(t, done)
	first := f.order(t, order.ID)

	f.advance(time.Minute)
	done, err = f.coordinator.CompletePayment(ctx, order.ID, "intent-2", SourcePolling)
	require.NoError(t, err)
	require.False(t, done)

	second := f.order(t, order.ID)
	require.Equal(t, *first.PaymentIntentID, *second.PaymentIntentID)
	require.True(t, first.PaymentDate.Equal(*second.PaymentDate))
	require.Equal(t, first.TotalAmount, second.TotalAmount)
	require.Equal(t, *first.StatusToken, *second.StatusToken)
	require.Equal(t, 1, f.notifier.count(order.ID))
}

func TestCompletePaymentLateButSlotFree(t *testing.T) {
	f := setupFixture(t, 1)
	order := f.reserve(t, "alan@example.com", "12:00")

	f.advance(2 * time.Hour)

	done, err := f.coordinator.CompletePayment(context.Background(), order.ID, "intent-1", SourceReconcile)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, orders.StatusCompleted, f.order(t, order.ID).PaymentStatus)
}

func TestCompletePaymentLateAndSlotTaken(t *testing.T) {
	f := setupFixture(t, 1)
	order := f.reserve(t, "alan@example.com", "12:00")

	f.advance(2 * time.Hour)
	f.reserve(t, "grace@example.com", "12:00")

	done, err := f.coordinator.CompletePayment(context.Background(), order.ID, "intent-1", SourceWebhook)
	require.ErrorIs(t, err, orders.ErrReservationExpired)
	require.False(t, done)
	require.Equal(t, 0, f.notifier.count(order.ID))
	require.Equal(t, 1, f.notifier.refundCount(order.ID))
	require.Equal(t, orders.StatusPending, f.order(t, order.ID).PaymentStatus)
}

func TestCompletePaymentReleasedOrder(t *testing.T) {
	f := setupFixture(t, 30)
	ctx := context.Background()
	order := f.reserve(t, "alan@example.com", "12:00")

	f.advance(2 * time.Hour)
	released, err := f.policy.ClearIfStale(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, released)

	done, err := f.coordinator.CompletePayment(ctx, order.ID, "intent-1", SourceWebhook)
	require.ErrorIs(t, err, orders.ErrOrderReleased)
	require.False(t, done)
	require.Equal(t, 1, f.notifier.refundCount(order.ID))
}

type refundFlagDown struct {
	Storage
}

func (refundFlagDown) MarkRefundNotified(context.Context, int64) (bool, error) {
	return false, errors.New("database is locked")
}

func TestCompletePaymentRefundAlertNotStored(t *testing.T) {
	f := setupFixture(t, 30)
	ctx := context.Background()
	order := f.reserve(t, "alan@example.com", "12:00")

	f.advance(2 * time.Hour)
	released, err := f.policy.ClearIfStale(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, released)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := NewCoordinator(refundFlagDown{f.store}, f.tracker, f.policy, keylock.New[int64](), f.notifier, logger)

	_, err = coordinator.CompletePayment(ctx, order.ID, "intent-1", SourceWebhook)
	require.ErrorIs(t, err, orders.ErrOrderReleased)
	require.ErrorIs(t, err, ErrRefundNotRecorded)
	require.Equal(t, 0, f.notifier.refundCount(order.ID))
	require.Nil(t, f.order(t, order.ID).RefundNotified)
}

func TestCompletePaymentUnknownOrder(t *testing.T) {
	f := setupFixture(t, 30)

	_, err := f.coordinator.CompletePayment(context.Background(), 404, "intent-1", SourcePolling)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
	require.Equal(t, 0, f.notifier.refundCount(404))
}
