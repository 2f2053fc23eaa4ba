package core

import "errors"

// Failure taxonomy. Every operation returns one of these to the originating
// caller over its reply channel; nothing is thrown across connections and
// nothing is retried automatically.
var (
	// ErrPeerNotFound: the referenced connection id has no active peer,
	// typically a race with disconnect.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrHandleNotFound: transport/producer/consumer id unknown to the peer.
	ErrHandleNotFound = errors.New("session handle not found")

	// ErrUnauthorized: non-host attempted a host-only action.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRoomClosed: the room was torn down while the operation was in flight.
	ErrRoomClosed = errors.New("room closed")

	// ErrBackpressure: a peer's send queue is full; the event is dropped
	// for that peer only.
	ErrBackpressure = errors.New("backpressure")
)
