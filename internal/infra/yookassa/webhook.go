package yookassa

import (
	"slotpay/internal/stories/payment"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ParseWebhook decodes a YooKassa HTTP notification:
//
//	{"type": "notification", "event": "payment.succeeded", "object": {"id": "...", "status": "...", "metadata": {...}}}
func (c *Client) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var event payment.WebhookEvent

	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			event.EventType = v
			return err
		case "object":
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "id":
					event.IntentID, err = d.Str()
					event.OrderID = event.IntentID
				case "status":
					event.State, err = d.Str()
				case "metadata":
					event.Metadata = map[string]string{}
					err = d.Obj(func(d *jx.Decoder, key string) error {
						if d.Next() != jx.String {
							return d.Skip()
						}
						v, err := d.Str()
						event.Metadata[key] = v
						return err
					})
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode yookassa notification")
	}
	if event.EventType == "" {
		return nil, errors.New("notification without event")
	}

	return &event, nil
}
