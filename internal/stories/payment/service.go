package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"slotpay/internal/stories/orders"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Config struct {
	// RedirectBaseURL is where the payer comes back after checkout, e.g. https://lunch.example.org
	RedirectBaseURL string
	ItemName        string
}

// Service drives checkout, browser polling and gateway webhooks.
type Service struct {
	storage   Storage
	gateway   Gateway
	completer Completer
	policy    ExpirationPolicy
	checkouts Locker
	cfg       Config
	logger    *slog.Logger
}

// NewService builds the payment flows. checkouts must be a lock map of its own:
// it is held across gateway calls, so sharing it with the coordinator would
// stall completions.
func NewService(storage Storage, gateway Gateway, completer Completer, policy ExpirationPolicy, checkouts Locker, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		storage:   storage,
		gateway:   gateway,
		completer: completer,
		policy:    policy,
		checkouts: checkouts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Checkout creates a checkout intent for a pending order and returns where to
// send the payer.
func (s *Service) Checkout(ctx context.Context, orderID int64) (*CheckoutResult, error) {
	// Одна попытка оплаты на заказ за раз: счётчик попыток и интент
	// читаются и пишутся под этой блокировкой.
	unlock := s.checkouts.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(ctx, orders.GetCriteria{ID: &orderID})
	if err != nil {
		return nil, err
	}

	if err := s.policy.CheckPayable(order); err != nil {
		if errors.Is(err, orders.ErrReservationExpired) {
			if _, clearErr := s.policy.ClearIfStale(ctx, order.ID); clearErr != nil {
				s.logger.Error("Failed to release stale order", "order_id", order.ID, "error", clearErr)
			}
		}
		s.logger.Info("Checkout refused", "order_id", order.ID, "reason", err.Error())
		return nil, err
	}

	// Предыдущий интент мог уже быть оплачен - не создаём второй
	if order.PaymentIntentID != nil {
		status, err := s.gateway.GetIntentStatus(ctx, *order.PaymentIntentID)
		switch {
		case err != nil:
			s.logger.Warn("Failed to check previous intent", "order_id", order.ID, "intent_id", *order.PaymentIntentID, "error", err)
		case status.HasOrder:
			if _, err := s.completer.CompletePayment(ctx, order.ID, *order.PaymentIntentID, SourceCheckout); err != nil {
				return nil, errors.Wrap(err, "complete previous intent")
			}
			return nil, orders.ErrAlreadyPaid
		}
	}

	if order.StatusToken == nil {
		token, err := orders.NewStatusToken()
		if err != nil {
			return nil, errors.Wrap(err, "generate status token")
		}
		if err := s.storage.SetStatusToken(ctx, order.ID, token); err != nil {
			return nil, errors.Wrap(err, "set status token")
		}
	}

	req, err := s.intentRequest(order)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Creating checkout intent", "order_id", order.ID, "amount", order.TotalAmount)

	intent, err := s.gateway.CreateCheckoutIntent(ctx, req)
	if err != nil {
		updated, attemptErr := s.policy.RecordFailedAttempt(ctx, order.ID)
		if attemptErr != nil {
			s.logger.Error("Failed to record payment attempt", "order_id", order.ID, "error", attemptErr)
		}
		s.logger.Error("Failed to create checkout intent",
			"order_id", order.ID,
			"payment_attempts", lo.TernaryF(updated != nil, func() int { return updated.PaymentAttempts }, func() int { return order.PaymentAttempts }),
			"error", err,
		)
		return nil, errors.Wrap(err, "create checkout intent")
	}

	stored, err := s.storage.SetPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return nil, errors.Wrap(err, "store payment intent")
	}
	if !stored {
		// заказ успели оплатить или освободить
		current, err := s.getOrder(ctx, orders.GetCriteria{ID: &order.ID})
		if err != nil {
			return nil, err
		}
		if err := s.policy.CheckPayable(current); err != nil {
			return nil, err
		}
		return nil, orders.ErrOrderReleased
	}

	s.logger.Info("Checkout intent created", "order_id", order.ID, "intent_id", intent.ID)

	return &CheckoutResult{
		OrderID:     order.ID,
		IntentID:    intent.ID,
		RedirectURL: intent.RedirectURL,
		ExpiresAt:   order.ExpiresAt,
	}, nil
}

// PollStatus answers the browser returning from the gateway. For a known intent a
// gateway error never fails the call: the stored status is returned instead.
func (s *Service) PollStatus(ctx context.Context, intentID string) (*StatusView, error) {
	order, err := s.storage.GetOrder(ctx, orders.GetCriteria{PaymentIntentID: &intentID})
	if err != nil {
		return nil, errors.Wrap(err, "get order by intent")
	}
	if order == nil {
		return s.pollSuperseded(ctx, intentID)
	}
	if order.IsCompleted() {
		return newStatusView(order, true), nil
	}

	status, err := s.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		s.logger.Warn("Gateway status check failed, returning stored status",
			"order_id", order.ID,
			"intent_id", intentID,
			"error", err,
		)
		return newStatusView(order, false), nil
	}
	return s.completePolled(ctx, order, intentID, status), nil
}

// pollSuperseded handles a browser coming back from an intent that a later
// checkout replaced. The gateway metadata names the order the intent was made for.
func (s *Service) pollSuperseded(ctx context.Context, intentID string) (*StatusView, error) {
	status, err := s.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		return nil, errors.Wrap(err, "get unknown intent status")
	}

	ref, ok := status.Metadata[MetadataOrderID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	orderID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, orders.ErrOrderNotFound
	}

	order, err := s.getOrder(ctx, orders.GetCriteria{ID: &orderID})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Polling a superseded intent",
		"order_id", order.ID,
		"intent_id", intentID,
		"current_intent_id", lo.FromPtr(order.PaymentIntentID),
	)

	if order.IsCompleted() {
		if status.HasOrder && lo.FromPtr(order.PaymentIntentID) != intentID {
			s.logger.Error("Order paid twice, refund required",
				"order_id", order.ID,
				"intent_id", intentID,
				"paid_intent_id", lo.FromPtr(order.PaymentIntentID),
			)
		}
		return newStatusView(order, true), nil
	}
	return s.completePolled(ctx, order, intentID, status), nil
}

func (s *Service) completePolled(ctx context.Context, order *orders.Order, intentID string, status *IntentStatus) *StatusView {
	if !status.HasOrder {
		return newStatusView(order, true)
	}

	if _, err := s.completer.CompletePayment(ctx, order.ID, intentID, SourcePolling); err != nil {
		s.logger.Error("Failed to complete polled payment", "order_id", order.ID, "intent_id", intentID, "error", err)
	}

	current, err := s.getOrder(ctx, orders.GetCriteria{ID: &order.ID})
	if err != nil {
		return newStatusView(order, false)
	}
	return newStatusView(current, true)
}

// HandleWebhook processes a gateway notification. The payload is only a hint:
// the intent is always re-read from the gateway before completing.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) error {
	event, err := s.gateway.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", orders.ErrInvalidRequest, err)
	}

	if !event.IsPayment() {
		s.logger.Debug("Ignoring webhook event", "event_type", event.EventType)
		return nil
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		s.logger.Warn("Webhook for unknown order",
			"event_type", event.EventType,
			"intent_id", event.IntentID,
			"metadata", event.Metadata,
		)
		return nil
	}
	if order.IsCompleted() {
		if event.IntentID != "" && event.IntentID != lo.FromPtr(order.PaymentIntentID) {
			s.logger.Warn("Webhook for another intent of a paid order, check for a double payment",
				"order_id", order.ID,
				"intent_id", event.IntentID,
				"paid_intent_id", lo.FromPtr(order.PaymentIntentID),
			)
		}
		return nil
	}

	intentID := lo.Ternary(event.IntentID != "", event.IntentID, lo.FromPtr(order.PaymentIntentID))
	if intentID == "" {
		s.logger.Warn("Webhook without intent for order", "order_id", order.ID)
		return nil
	}

	status, err := s.gateway.GetIntentStatus(ctx, intentID)
	if err != nil {
		return errors.Wrap(err, "verify webhook intent")
	}
	if !status.HasOrder {
		s.logger.Info("Webhook intent not paid yet", "order_id", order.ID, "intent_id", intentID)
		return nil
	}
	if ref, ok := status.Metadata[MetadataOrderID]; ok && ref != strconv.FormatInt(order.ID, 10) {
		s.logger.Warn("Webhook intent belongs to another order",
			"order_id", order.ID,
			"intent_id", intentID,
			"intent_order_id", ref,
		)
		return fmt.Errorf("%w: intent %s does not belong to order %d", orders.ErrInvalidRequest, intentID, order.ID)
	}

	_, err = s.completer.CompletePayment(ctx, order.ID, intentID, SourceWebhook)
	if needsRefund(err) && !errors.Is(err, ErrRefundNotRecorded) {
		// Персонал уже предупреждён; повторная доставка ничего не изменит.
		s.logger.Warn("Webhook payment cannot be kept, refund alert recorded",
			"order_id", order.ID,
			"intent_id", intentID,
			"error", err,
		)
		return nil
	}
	return err
}

func (s *Service) resolveOrder(ctx context.Context, event *WebhookEvent) (*orders.Order, error) {
	if ref, ok := event.Metadata[MetadataOrderID]; ok {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err == nil {
			order, err := s.storage.GetOrder(ctx, orders.GetCriteria{ID: &id})
			if err != nil {
				return nil, errors.Wrap(err, "get order by metadata")
			}
			if order != nil {
				return order, nil
			}
		}
	}

	if event.IntentID == "" {
		return nil, nil
	}

	order, err := s.storage.GetOrder(ctx, orders.GetCriteria{PaymentIntentID: &event.IntentID})
	if err != nil {
		return nil, errors.Wrap(err, "get order by intent")
	}
	return order, nil
}

func (s *Service) getOrder(ctx context.Context, criteria orders.GetCriteria) (*orders.Order, error) {
	order, err := s.storage.GetOrder(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if order == nil {
		return nil, orders.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) intentRequest(order *orders.Order) (CheckoutIntentRequest, error) {
	base := strings.TrimRight(s.cfg.RedirectBaseURL, "/")
	returnURL, err := url.Parse(base + "/payment/success")
	if err != nil {
		return CheckoutIntentRequest{}, errors.Wrap(err, "parse redirect base url")
	}
	q := returnURL.Query()
	q.Set(MetadataOrderID, strconv.FormatInt(order.ID, 10))
	returnURL.RawQuery = q.Encode()

	return CheckoutIntentRequest{
		TotalAmount: order.TotalAmount,
		ItemName:    fmt.Sprintf("%s %s", s.cfg.ItemName, order.SlotStart),
		Payer: Payer{
			FirstName: order.FirstName,
			LastName:  order.LastName,
			Email:     order.Email,
		},
		BackURL:   base + "/order",
		ErrorURL:  base + "/payment/error",
		ReturnURL: returnURL.String(),
		Metadata: map[string]string{
			MetadataOrderID: strconv.FormatInt(order.ID, 10),
			"slot":          order.SlotStart,
		},
	}, nil
}
