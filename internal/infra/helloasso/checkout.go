package helloasso

import (
	"context"
	"net/http"
	"net/url"

	"slotpay/internal/stories/payment"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func (c *Client) intentsPath() string {
	return "/v5/organizations/" + url.PathEscape(c.cfg.OrganizationSlug) + "/checkout-intents"
}

// CreateCheckoutIntent is sent once. A failed creation is never retried so
// the payer cannot end up with two intents.
func (c *Client) CreateCheckoutIntent(ctx context.Context, req payment.CheckoutIntentRequest) (*payment.CheckoutIntent, error) {
	data, err := c.call(ctx, request{
		op:     "create_checkout_intent",
		method: http.MethodPost,
		path:   c.intentsPath(),
		body:   encodeCheckoutIntent(req),
	})
	if err != nil {
		return nil, err
	}

	var intent payment.CheckoutIntent
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			intent.ID, err = decodeID(d)
		case "redirectUrl":
			intent.RedirectURL, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkout intent")
	}
	if intent.ID == "" || intent.RedirectURL == "" {
		return nil, errors.Errorf("checkout intent response is incomplete: %s", data)
	}

	c.logger.Info("HelloAsso checkout intent created", "intent_id", intent.ID)
	return &intent, nil
}

// GetIntentStatus reads a checkout intent. The intent carries an "order"
// object once it has been paid.
func (c *Client) GetIntentStatus(ctx context.Context, intentID string) (*payment.IntentStatus, error) {
	data, err := c.call(ctx, request{
		op:      "get_checkout_intent",
		method:  http.MethodGet,
		path:    c.intentsPath() + "/" + url.PathEscape(intentID),
		retried: true,
	})
	if err != nil {
		return nil, err
	}

	status := payment.IntentStatus{IntentID: intentID}
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "metadata":
			m, err := decodeMetadata(d)
			status.Metadata = m
			return err
		case "order":
			if d.Next() == jx.Null {
				return d.Null()
			}
			status.HasOrder = true
			return decodeOrder(d, &status)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkout intent status")
	}

	return &status, nil
}

func decodeOrder(d *jx.Decoder, status *payment.IntentStatus) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			status.OrderID, err = decodeID(d)
		case "amount":
			err = decodeAmount(d, &status.Amount)
		case "payments":
			err = d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key == "state" && status.State == "" {
						var err error
						status.State, err = d.Str()
						return err
					}
					return d.Skip()
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
}

// decodeAmount accepts both a plain number of cents and {"total": n}.
func decodeAmount(d *jx.Decoder, out *int64) error {
	switch d.Next() {
	case jx.Number:
		v, err := d.Int64()
		*out = v
		return err
	case jx.Object:
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "total" {
				return d.Skip()
			}
			v, err := d.Int64()
			*out = v
			return err
		})
	default:
		return d.Skip()
	}
}

func encodeCheckoutIntent(req payment.CheckoutIntentRequest) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("totalAmount", func(e *jx.Encoder) { e.Int64(req.TotalAmount) })
		e.Field("initialAmount", func(e *jx.Encoder) { e.Int64(req.TotalAmount) })
		e.Field("itemName", func(e *jx.Encoder) { e.Str(req.ItemName) })
		e.Field("backUrl", func(e *jx.Encoder) { e.Str(req.BackURL) })
		e.Field("errorUrl", func(e *jx.Encoder) { e.Str(req.ErrorURL) })
		e.Field("returnUrl", func(e *jx.Encoder) { e.Str(req.ReturnURL) })
		e.Field("containsDonation", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("payer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("firstName", func(e *jx.Encoder) { e.Str(req.Payer.FirstName) })
				e.Field("lastName", func(e *jx.Encoder) { e.Str(req.Payer.LastName) })
				e.Field("email", func(e *jx.Encoder) { e.Str(req.Payer.Email) })
			})
		})
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range sortedKeys(req.Metadata) {
					e.Field(k, func(e *jx.Encoder) { e.Str(req.Metadata[k]) })
				}
			})
		})
	})
	return e.Bytes()
}
