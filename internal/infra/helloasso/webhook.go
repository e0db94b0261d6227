package helloasso

import (
	"slotpay/internal/stories/payment"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/samber/lo"
)

// ParseWebhook decodes a HelloAsso notification:
//
//	{"eventType": "Payment", "data": {...}, "metadata": {...}}
//
// Metadata may sit at the top level or inside data; both are merged.
func (c *Client) ParseWebhook(body []byte) (*payment.WebhookEvent, error) {
	var (
		event        payment.WebhookEvent
		dataMetadata map[string]string
	)

	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "eventType":
			event.EventType, err = d.Str()
		case "metadata":
			event.Metadata, err = decodeMetadata(d)
		case "data":
			dataMetadata, err = decodeWebhookData(d, &event)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}
	if event.EventType == "" {
		return nil, errors.New("webhook without eventType")
	}

	if len(dataMetadata) > 0 {
		event.Metadata = lo.Assign(dataMetadata, event.Metadata)
	}

	return &event, nil
}

func decodeWebhookData(d *jx.Decoder, event *payment.WebhookEvent) (map[string]string, error) {
	if d.Next() != jx.Object {
		return nil, d.Skip()
	}

	var metadata map[string]string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "checkoutIntentId":
			event.IntentID, err = decodeID(d)
		case "state":
			event.State, err = d.Str()
		case "id":
			// для событий Order сам data и есть заказ
			if event.OrderID == "" {
				event.OrderID, err = decodeID(d)
			} else {
				err = d.Skip()
			}
		case "order":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key == "id" {
					var err error
					event.OrderID, err = decodeID(d)
					return err
				}
				return d.Skip()
			})
		case "metadata":
			metadata, err = decodeMetadata(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return metadata, err
}
