package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"slotpay/internal/metrics"
	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var ErrStopped = errors.New("dispatcher stopped")

type kind string

const (
	kindCompletion kind = "completion"
	kindRefund     kind = "refund"
)

type event struct {
	kind    kind
	orderID int64
}

type Config struct {
	Language      string
	StatusBaseURL string
	QueueSize     int
	SendTimeout   time.Duration
}

// Dispatcher delivers staff notifications off the request path. Enqueueing
// blocks while the queue is full, until the caller's context is done.
type Dispatcher struct {
	storage Storage
	sender  Sender
	texts   Translator
	cfg     Config
	logger  *slog.Logger

	queue chan event
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewDispatcher(storage Storage, sender Sender, texts Translator, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	return &Dispatcher{
		storage: storage,
		sender:  sender,
		texts:   texts,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Name() string {
	return "notifications"
}

func (d *Dispatcher) Start() error {
	d.wg.Add(1)
	go d.loop()

	d.logger.Info("Notification dispatcher started", "queue_size", d.cfg.QueueSize)
	return nil
}

// Stop delivers what is already queued and returns once the loop has exited.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.logger.Info("Stopping notification dispatcher")
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) NotifyCompletion(ctx context.Context, orderID int64) error {
	return d.enqueue(ctx, event{kind: kindCompletion, orderID: orderID})
}

func (d *Dispatcher) NotifyRefund(ctx context.Context, orderID int64) error {
	return d.enqueue(ctx, event{kind: kindRefund, orderID: orderID})
}

func (d *Dispatcher) enqueue(ctx context.Context, e event) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}

	select {
	case d.queue <- e:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		metrics.Notifications.WithLabelValues(string(e.kind), "dropped").Inc()
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.queue:
			d.handle(e)
		case <-d.done:
			for {
				select {
				case e := <-d.queue:
					d.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(e event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.deliver(ctx, e); err != nil {
		metrics.Notifications.WithLabelValues(string(e.kind), "failed").Inc()
		d.logger.Error("Failed to deliver notification",
			"kind", e.kind,
			"order_id", e.orderID,
			"error", err,
		)
		return
	}

	metrics.Notifications.WithLabelValues(string(e.kind), "sent").Inc()
}

func (d *Dispatcher) deliver(ctx context.Context, e event) error {
	order, err := d.storage.GetOrder(ctx, orders.GetCriteria{ID: lo.ToPtr(e.orderID)})
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if order == nil {
		return orders.ErrOrderNotFound
	}

	text, err := d.render(e.kind, order)
	if err != nil {
		return err
	}

	return d.sender.Send(ctx, text)
}

func (d *Dispatcher) render(k kind, order *orders.Order) (string, error) {
	params := map[string]interface{}{
		"order_id":   order.ID,
		"first_name": order.FirstName,
		"last_name":  order.LastName,
		"email":      order.Email,
		"slot":       order.SlotStart,
		"amount":     FormatAmount(order.TotalAmount),
	}

	switch k {
	case kindCompletion:
		params["status_url"] = d.statusURL(order)
		return d.texts.Get(d.cfg.Language, "notifications.order_paid", params), nil
	case kindRefund:
		return d.texts.Get(d.cfg.Language, "notifications.late_payment_refund", params), nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", k)
	}
}

func (d *Dispatcher) statusURL(order *orders.Order) string {
	token := lo.FromPtr(order.StatusToken)
	if token == "" || d.cfg.StatusBaseURL == "" {
		return "-"
	}
	return strings.TrimRight(d.cfg.StatusBaseURL, "/") + "/order/status/" + token
}

// FormatAmount renders cents as "12.50".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
