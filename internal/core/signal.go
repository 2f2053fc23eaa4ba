package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Frame is a raw signaling payload.
type Frame []byte

// SignalConnection abstracts the per-peer messaging transport.
// Owned by the adapter; the adapter must Close() it. TrySend must preserve
// FIFO order for a single connection.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Event is the outbound push envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func sendEvent(conn SignalConnection, event string, data any) {
	b, err := json.Marshal(Event{Type: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("event", event).Msg("marshal event")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Str("event", event).Msg("dropped event")
	}
}
