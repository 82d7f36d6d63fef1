package protocol

import (
	"context"
	"encoding/json"
	"strings"
)

// Handler carries out the requests of one connection.
type Handler interface {
	// Subscribe registers req and returns the id it is known by. start
	// begins streaming results; it is called once the subscribed reply
	// has been sent.
	Subscribe(ctx context.Context, req Subscribe) (id string, data Subscribed, start func(), err error)
	// Unsubscribe stops a subscription; false when id is unknown.
	Unsubscribe(id string) bool
	// Classify names the kind of a Subscribe error for ErrorData.Kind.
	Classify(err error) string
}

// Sender writes one message to the connection.
type Sender func(Outbound) error

// HandleMessage decodes raw, runs it against h and sends the reply. The
// only error returned is a failed send.
func HandleMessage(ctx context.Context, raw []byte, h Handler, send Sender) error {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return send(Outbound{Type: TypeError, Data: ErrorData{Error: "invalid JSON"}})
	}

	switch strings.ToLower(msg.Type) {
	case TypePing:
		return send(Outbound{Type: TypePong, ID: msg.ID})

	case TypeSubscribe:
		var sub Subscribe
		if err := json.Unmarshal(raw, &sub); err != nil {
			return send(Outbound{Type: TypeError, ID: msg.ID, Data: ErrorData{Error: "bad subscribe: " + err.Error()}})
		}
		if strings.TrimSpace(sub.SQL) == "" {
			return send(Outbound{Type: TypeError, ID: msg.ID, Data: ErrorData{Error: "missing SQL", Kind: "validation"}})
		}
		id, data, start, err := h.Subscribe(ctx, sub)
		if err != nil {
			return send(Outbound{Type: TypeError, ID: msg.ID, Data: ErrorData{Error: err.Error(), Kind: h.Classify(err)}})
		}
		if err := send(Outbound{Type: TypeSubscribed, ID: id, Data: data}); err != nil {
			h.Unsubscribe(id)
			return err
		}
		start()
		return nil

	case TypeUnsubscribe:
		if !h.Unsubscribe(msg.ID) {
			return send(Outbound{Type: TypeError, ID: msg.ID, Data: ErrorData{Error: "unknown subscription"}})
		}
		return send(Outbound{Type: TypeUnsubscribed, ID: msg.ID})

	default:
		return send(Outbound{Type: TypeError, ID: msg.ID, Data: ErrorData{Error: "unknown message type " + msg.Type}})
	}
}
