package core

import (
	"context"
	"encoding/json"
)

// Engine is the external media engine boundary. The room plane never looks
// inside RTP processing; it only asks for routers, transports, producers and
// consumers and keeps ownership bookkeeping.
type Engine interface {
	// CreateRouter allocates one router per room. Failure must propagate as
	// a room-creation failure.
	CreateRouter(ctx context.Context) (Router, error)
	// OnDied registers a callback for a catastrophic engine failure.
	// The process treats it as fatal and shuts down in order.
	OnDied(func(error))
	Close()
}

// Router is the per-room media hub shared by all peers in the room.
type Router interface {
	// Capabilities returns the engine-supplied capability descriptor clients
	// need before producing or consuming.
	Capabilities() json.RawMessage
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether the given capabilities can consume the
	// given producer. A false result is a negotiation mismatch, not an error.
	CanConsume(producerID string, capabilities json.RawMessage) bool
	Close()
}

// TransportParams are the connection parameters handed back to the client.
type TransportParams struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Transport is a bidirectional media path owned by exactly one peer.
type Transport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, params json.RawMessage) error
	Produce(ctx context.Context, kind string, rtpParams json.RawMessage) (Producer, error)
	// Consume creates the consumer paused; media does not flow until the
	// client asks to resume.
	Consume(ctx context.Context, producerID string, capabilities json.RawMessage) (Consumer, error)
	Close()
}

// Producer is an outbound media source handle.
type Producer interface {
	ID() string
	Kind() string
	// OnClose fires when the engine reports the producer closed externally,
	// e.g. the underlying track ended.
	OnClose(func())
	Close()
}

// ConsumerParams describe the session the client needs to start playback.
type ConsumerParams struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// Consumer is an inbound media sink handle, created paused.
type Consumer interface {
	ID() string
	ProducerID() string
	Params() ConsumerParams
	Resume() error
	Close()
}
