// Package websocket defines the wire format of the /events stream: the
// frame envelope UI clients decode. It carries no server logic so clients
// can import it without pulling in the bridge.
package websocket

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for every message on the event stream. Type mirrors
// the bridge event type; Payload is the full event object.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame wraps an event payload in a stamped frame.
func NewFrame(eventType string, payload interface{}) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload decodes the frame payload into the given struct.
func (f *Frame) ParsePayload(v interface{}) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
