package bus

import (
	"encoding/json"
	"time"
)

// InboundMessage is one postMessage delivery from the page on a named
// message channel. Body is the JSON-serialized structured message.
type InboundMessage struct {
	Channel       string          `json:"channel"`
	Body          json.RawMessage `json:"body"`
	ReceivedAt    time.Time       `json:"received_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

type MessageHandler func(InboundMessage) error
