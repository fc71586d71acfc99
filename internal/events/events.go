// Package events is the SSE fan-out for pipeline and attempt activity:
// postings_added, attempt_dispatched, attempt_state, attempts_confirmed.
// Consumers reconnect freely; nothing is replayed.
package events

import (
	"encoding/json"
	"time"
)

// Event is the wire envelope on /events.
type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent builds one serialized event line. Marshal failures are
// swallowed: a dropped event is better than a dead publisher.
func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}
