// Package protocol defines the messages exchanged over the /ws live query
// socket.
package protocol

import "encoding/json"

// Client to server.
const (
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Server to client.
const (
	TypePong         = "pong"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeResult       = "result"
	TypeError        = "error"
)

type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Subscribe starts a live query. ID is chosen by the client; an empty ID
// is replaced with a server generated one.
type Subscribe struct {
	Message
	SQL string `json:"sql"`
	// Editable wraps every cell with its edit handle.
	Editable bool `json:"editable,omitempty"`
}

type Unsubscribe struct {
	Message
}

// Outbound is every server message.
type Outbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
	// Kind classifies statement errors: parse, validation, translation,
	// source or internal.
	Kind string `json:"kind,omitempty"`
}

// Subscribed is the data of a subscribed reply.
type Subscribed struct {
	SQL     string   `json:"sql"`
	Queries []string `json:"queries"`
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}
