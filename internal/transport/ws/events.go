package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/mavis/internal/fanout"
)

// Event types - Client → Server
const (
	EventTypeSubscribe   = "subscribe"
	EventTypeUnsubscribe = "unsubscribe"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeSnapshot     = "snapshot"
	EventTypeUnsubscribed = "unsubscribed"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// SubscriptionPayload names a subscription in subscribe, unsubscribe and
// unsubscribed events.
type SubscriptionPayload = fanout.Key

// SnapshotPayload carries the full current view of one subscription.
type SnapshotPayload struct {
	Kind fanout.Kind `json:"kind"`
	ID   string      `json:"id"`
	Seq  uint64      `json:"seq"`
	Data any         `json:"data"`
}

type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Kind    fanout.Kind `json:"kind,omitempty"`
	ID      string      `json:"id,omitempty"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
