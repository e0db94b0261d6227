package payment

import (
	"context"
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

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu      sync.Mutex
	calls   map[int64]int
	refunds map[int64]int
}

func (n *countingNotifier) NotifyRefund(_ context.Context, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refunds == nil {
		n.refunds = map[int64]int{}
	}
	n.refunds[orderID]++
	return nil
}

func (n *countingNotifier) refundCount(orderID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refunds[orderID]
}

func (n *countingNotifier) NotifyCompletion(_ context.Context, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[int64]int{}
	}
	n.calls[orderID]++
	return nil
}

func (n *countingNotifier) count(orderID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[orderID]
}

type fakeGateway struct {
	mu          sync.Mutex
	createErr   error
	createDelay time.Duration
	statusErr   error
	paid        map[string]bool
	metadata    map[string]map[string]string
	creates     int
	statuses    int
	next        int
}

func (g *fakeGateway) CreateCheckoutIntent(_ context.Context, req CheckoutIntentRequest) (*CheckoutIntent, error) {
	g.mu.Lock()
	delay := g.createDelay
	g.mu.Unlock()
	// медленный шлюз: окно, в котором параллельные оплаты могли бы разойтись
	time.Sleep(delay)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("intent-%d", g.next)
	if g.metadata == nil {
		g.metadata = map[string]map[string]string{}
	}
	g.metadata[id] = req.Metadata
	return &CheckoutIntent{ID: id, RedirectURL: "https://pay.example.com/" + id}, nil
}

func (g *fakeGateway) GetIntentStatus(_ context.Context, intentID string) (*IntentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return &IntentStatus{IntentID: intentID, HasOrder: g.paid[intentID], Metadata: g.metadata[intentID]}, nil
}

func (g *fakeGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	_, err := fmt.Sscanf(string(body), "%s %s %s", &ev.EventType, &ev.IntentID, &ev.OrderID)
	if err != nil {
		return nil, err
	}
	if ev.OrderID != "-" {
		ev.Metadata = map[string]string{MetadataOrderID: ev.OrderID}
	}
	if ev.IntentID == "-" {
		ev.IntentID = ""
	}
	return &ev, nil
}

func (g *fakeGateway) markPaid(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paid == nil {
		g.paid = map[string]bool{}
	}
	g.paid[intentID] = true
}

func (g *fakeGateway) calls() (creates, statuses int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.statuses
}

type fixture struct {
	store interface {
		Storage
		orders.Storage
		CreateOrder(ctx context.Context, order orders.Order) (*orders.Order, error)
	}
	policy      *orders.ExpirationPolicy
	tracker     *slots.Tracker
	coordinator *Coordinator
	service     *Service
	gateway     *fakeGateway
	notifier    *countingNotifier

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

func setupFixture(t *testing.T, capacity int) *fixture {
	t.Helper()

	db := storagetest.NewDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		now:      time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		gateway:  &fakeGateway{},
		notifier: &countingNotifier{},
	}

	store := storage.New(db.DB).WithClock(f.clock)
	locks := keylock.New[int64]()
	f.store = store
	f.policy = orders.NewExpirationPolicy(store, locks, time.Hour, 3, logger).WithClock(f.clock)
	schedule, err := slots.DefaultSchedule(capacity)
	require.NoError(t, err)
	f.tracker = slots.NewTracker(schedule, store, f.policy, sqlite3.WithTx(db.DB, nil))
	f.coordinator = NewCoordinator(store, f.tracker, f.policy, locks, f.notifier, logger)
	f.service = NewService(store, f.gateway, f.coordinator, f.policy, keylock.New[int64](), Config{
		RedirectBaseURL: "https://lunch.example.org/",
		ItemName:        "Lunch",
	}, logger)

	return f
}

// reserve books a slot for identity the way the reservation flow does.
func (f *fixture) reserve(t *testing.T, identity, slot string) *orders.Order {
	t.Helper()

	var created *orders.Order
	ok, err := f.tracker.TryReserve(context.Background(), slot, func(ctx context.Context) error {
		var err error
		created, err = f.store.CreateOrder(ctx, orders.Order{
			Identity:    identity,
			Email:       identity,
			FirstName:   "Alan",
			LastName:    "Turing",
			SlotStart:   slot,
			Selection:   []string{"menu:1"},
			TotalAmount: 1500,
			ExpiresAt:   lo.ToPtr(f.policy.NewExpiry()),
		})
		return err
	})
	require.NoError(t, err)
	require.True(t, ok)
	return created
}

func (f *fixture) order(t *testing.T, id int64) *orders.Order {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), orders.GetCriteria{ID: &id})
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}
