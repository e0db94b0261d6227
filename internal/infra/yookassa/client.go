package yookassa

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"slotpay/internal/stories/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rvinnie/yookassa-sdk-go/yookassa"
	yoocommon "github.com/rvinnie/yookassa-sdk-go/yookassa/common"
	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"
)

// Client adapts the YooKassa SDK to payment.Gateway. A YooKassa payment plays
// the role of a checkout intent.
type Client struct {
	client       *yookassa.Client
	findPayment  func(id string) (*yoopayment.Payment, error)
	logger       *slog.Logger
	currency     string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// NewClient creates a new YooKassa client wrapper. maxRetries bounds the
// attempts of a status lookup; payment creation is never repeated.
func NewClient(shopID, secretKey, currency string, timeout time.Duration, maxRetries int, retryBackoff time.Duration, logger *slog.Logger) (*Client, error) {
	if shopID == "" || secretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key are required")
	}
	if currency == "" {
		currency = "RUB"
	}

	c := &Client{
		client:       yookassa.NewClient(shopID, secretKey),
		logger:       logger,
		currency:     currency,
		timeout:      timeout,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
	c.findPayment = func(id string) (*yoopayment.Payment, error) {
		return yookassa.NewPaymentHandler(c.client).FindPayment(id)
	}
	return c, nil
}

// CreateCheckoutIntent creates a redirect payment. It is sent once with a
// fresh idempotence key.
func (c *Client) CreateCheckoutIntent(ctx context.Context, req payment.CheckoutIntentRequest) (*payment.CheckoutIntent, error) {
	c.logger.Info("Creating payment in YooKassa", "amount", req.TotalAmount)

	// Создаём идемпотентность ключ
	idempotenceKey := fmt.Sprintf("%s_%d", uuid.New().String(), time.Now().Unix())

	p := &yoopayment.Payment{
		Amount: &yoocommon.Amount{
			Value:    formatCents(req.TotalAmount),
			Currency: c.currency,
		},
		Confirmation: &yoopayment.Redirect{
			Type:      yoopayment.TypeRedirect,
			ReturnURL: req.ReturnURL,
		},
		Description: req.ItemName,
		Metadata:    req.Metadata,
		Capture:     true, // Автоматическое подтверждение платежа
	}

	result, err := c.run(ctx, func() (*yoopayment.Payment, error) {
		return yookassa.NewPaymentHandler(c.client).WithIdempotencyKey(idempotenceKey).CreatePayment(p)
	})
	if err != nil {
		c.logger.Error("Failed to create payment in YooKassa", "error", err)
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "create payment: %v", err)
	}

	redirectURL := confirmationURL(result)
	if redirectURL == "" {
		return nil, errors.Errorf("yookassa payment %s has no confirmation url", result.ID)
	}

	c.logger.Info("Payment created successfully in YooKassa", "payment_id", result.ID, "status", result.Status)
	return &payment.CheckoutIntent{ID: result.ID, RedirectURL: redirectURL}, nil
}

// GetIntentStatus reports a YooKassa payment as paid once it has succeeded.
// The lookup is read-only, so failed attempts are repeated with backoff.
func (c *Client) GetIntentStatus(ctx context.Context, intentID string) (*payment.IntentStatus, error) {
	result, err := backoff.RetryNotifyWithData(func() (*yoopayment.Payment, error) {
		p, err := c.run(ctx, func() (*yoopayment.Payment, error) {
			return c.findPayment(intentID)
		})
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return p, err
	}, c.backoff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn("YooKassa status lookup failed, retrying", "payment_id", intentID, "wait", wait, "error", err)
	})
	if err != nil {
		c.logger.Error("Failed to get payment status", "error", err, "payment_id", intentID)
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "find payment: %v", err)
	}

	status := &payment.IntentStatus{
		IntentID: intentID,
		HasOrder: result.Status == yoopayment.Succeeded,
		OrderID:  result.ID,
		State:    string(result.Status),
		Metadata: metadataOf(result.Metadata),
	}
	if result.Amount != nil {
		status.Amount = parseCents(result.Amount.Value)
	}
	return status, nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := 0
	if c.maxRetries > 1 {
		retries = c.maxRetries - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// run calls the SDK, which takes no context, and gives up when ctx is done.
func (c *Client) run(ctx context.Context, fn func() (*yoopayment.Payment, error)) (*yoopayment.Payment, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		p   *yoopayment.Payment
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := fn()
		ch <- result{p: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.p, r.err
	}
}

func confirmationURL(p *yoopayment.Payment) string {
	if p.Confirmation == nil {
		return ""
	}

	// SDK использует interface{} для Confirmation, нужно type assertion
	if redirect, ok := p.Confirmation.(*yoopayment.Redirect); ok {
		return redirect.ConfirmationURL
	}

	// Альтернативный способ через map (SDK иногда возвращает map)
	if confMap, ok := p.Confirmation.(map[string]interface{}); ok {
		if url, exists := confMap["confirmation_url"].(string); exists {
			return url
		}
	}

	return ""
}

func metadataOf(raw any) map[string]string {
	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
		return out
	default:
		return nil
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func parseCents(value string) int64 {
	whole, frac, _ := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	frac = (frac + "00")[:2]
	sub, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0
	}
	return units*100 + sub
}
