package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/domain"
)

// Media-session bookkeeping. Engine calls are suspension points and never run
// under the room lock; after each one completes the room re-locks and checks
// the owning peer still exists before registering the handle, so results of
// in-flight requests cannot re-register state for a peer being torn down.

// RouterCapabilities returns the engine capability descriptor, or nil when
// the room has no router (already closed).
func (r *Room) RouterCapabilities() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.router == nil {
		return nil
	}
	return r.router.Capabilities()
}

// CreateTransport asks the engine for a new transport and registers it under
// the invoking peer.
func (r *Room) CreateTransport(ctx context.Context, peerID domain.PeerID) (TransportParams, error) {
	r.mu.Lock()
	if _, ok := r.peers[peerID]; !ok {
		r.mu.Unlock()
		return TransportParams{}, ErrPeerNotFound
	}
	router := r.router
	r.mu.Unlock()
	if router == nil {
		return TransportParams{}, ErrRoomClosed
	}

	t, err := router.CreateTransport(ctx)
	if err != nil {
		return TransportParams{}, fmt.Errorf("create transport: %w", err)
	}

	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok || p.gone {
		r.mu.Unlock()
		t.Close()
		return TransportParams{}, ErrPeerNotFound
	}
	p.transports[t.ID()] = t
	r.mu.Unlock()

	log.Debug().Str("module", "core.media").Str("peer", string(peerID)).Str("transport", t.ID()).Msg("transport created")
	return t.Params(), nil
}

// ConnectTransport completes the transport handshake with client parameters.
func (r *Room) ConnectTransport(ctx context.Context, peerID domain.PeerID, transportID string, params json.RawMessage) error {
	t, err := r.transportOf(peerID, transportID)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	return nil
}

// Produce creates a producer on the peer's transport, registers it and
// announces it to every other active peer. A peer is never asked to consume
// its own media, so the announcement always excludes the producer's owner.
func (r *Room) Produce(ctx context.Context, peerID domain.PeerID, transportID, kind string, rtpParams json.RawMessage) (string, error) {
	t, err := r.transportOf(peerID, transportID)
	if err != nil {
		return "", err
	}

	prod, err := t.Produce(ctx, kind, rtpParams)
	if err != nil {
		return "", fmt.Errorf("produce: %w", err)
	}

	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok || p.gone {
		r.mu.Unlock()
		prod.Close()
		return "", ErrPeerNotFound
	}
	p.producers[prod.ID()] = prod
	prod.OnClose(func() { r.onProducerClosed(peerID, prod.ID()) })
	r.broadcastLocked("new-producer", map[string]any{
		"producerId": prod.ID(),
		"peerId":     peerID,
		"kind":       kind,
	}, peerID)
	r.mu.Unlock()

	log.Info().Str("module", "core.media").Str("peer", string(peerID)).Str("producer", prod.ID()).Str("kind", kind).Msg("producer created")
	return prod.ID(), nil
}

// Consume negotiates a consumer for the given producer. A capability mismatch
// yields (nil, nil): a normal outcome, not a failure to retry. The consumer
// is created paused; the client must ask to resume before media flows.
func (r *Room) Consume(ctx context.Context, peerID domain.PeerID, transportID, producerID string, capabilities json.RawMessage) (*ConsumerParams, error) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrPeerNotFound
	}
	t, ok := p.transports[transportID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrHandleNotFound
	}
	router := r.router
	r.mu.Unlock()
	if router == nil {
		return nil, ErrRoomClosed
	}

	if !router.CanConsume(producerID, capabilities) {
		log.Warn().Str("module", "core.media").Str("peer", string(peerID)).Str("producer", producerID).Msg("cannot consume")
		return nil, nil
	}

	cons, err := t.Consume(ctx, producerID, capabilities)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	r.mu.Lock()
	p, ok = r.peers[peerID]
	if !ok || p.gone {
		r.mu.Unlock()
		cons.Close()
		return nil, ErrPeerNotFound
	}
	p.consumers[cons.ID()] = cons
	if r.deps[producerID] == nil {
		r.deps[producerID] = make(map[string]domain.PeerID)
	}
	r.deps[producerID][cons.ID()] = peerID
	r.mu.Unlock()

	params := cons.Params()
	return &params, nil
}

// Resume lets media flow on a consumer created paused.
func (r *Room) Resume(peerID domain.PeerID, consumerID string) error {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	cons, ok := p.consumers[consumerID]
	if !ok {
		r.mu.Unlock()
		return ErrHandleNotFound
	}
	r.mu.Unlock()

	if err := cons.Resume(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// CloseProducer is the owner-initiated stop (e.g. ending a screen share),
// distinct from the engine's async close notifications. Both paths converge
// on removing the handle and cascading closure to dependent consumers.
func (r *Room) CloseProducer(peerID domain.PeerID, producerID string) error {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	prod, ok := p.producers[producerID]
	if !ok {
		r.mu.Unlock()
		return ErrHandleNotFound
	}
	delete(p.producers, producerID)
	notes := r.cascadeProducerLocked(producerID)
	r.mu.Unlock()

	prod.Close()
	deliverClosedNotes(notes)
	log.Info().Str("module", "core.media").Str("peer", string(peerID)).Str("producer", producerID).Msg("producer closed by owner")
	return nil
}

// onProducerClosed handles the engine-originated close (e.g. track ended).
// Idempotent with the explicit path: a producer already removed leaves an
// empty dependency set behind.
func (r *Room) onProducerClosed(ownerID domain.PeerID, producerID string) {
	r.mu.Lock()
	if p, ok := r.peers[ownerID]; ok {
		delete(p.producers, producerID)
	}
	notes := r.cascadeProducerLocked(producerID)
	r.mu.Unlock()

	deliverClosedNotes(notes)
	log.Info().Str("module", "core.media").Str("producer", producerID).Msg("producer closed by engine")
}

// closedNote carries a consumer teardown that must be delivered to the
// owning peer, and only that peer, outside the room lock.
type closedNote struct {
	owner *Peer
	cons  Consumer
}

// cascadeProducerLocked closes every consumer depending on the producer,
// driven by the explicit dependency index.
func (r *Room) cascadeProducerLocked(producerID string) []closedNote {
	owners, ok := r.deps[producerID]
	if !ok {
		return nil
	}
	delete(r.deps, producerID)

	var notes []closedNote
	for consumerID, ownerID := range owners {
		p, ok := r.peers[ownerID]
		if !ok {
			continue
		}
		cons, ok := p.consumers[consumerID]
		if !ok {
			continue
		}
		delete(p.consumers, consumerID)
		notes = append(notes, closedNote{owner: p, cons: cons})
	}
	return notes
}

// dropDependencyLocked unlinks a consumer from the index when its owner
// departs before the producer does.
func (r *Room) dropDependencyLocked(producerID, consumerID string) {
	if owners, ok := r.deps[producerID]; ok {
		delete(owners, consumerID)
		if len(owners) == 0 {
			delete(r.deps, producerID)
		}
	}
}

func deliverClosedNotes(notes []closedNote) {
	for _, n := range notes {
		n.cons.Close()
		n.owner.Send("consumer-closed", map[string]any{"consumerId": n.cons.ID()})
	}
}

// transportOf resolves a peer's transport under the lock.
func (r *Room) transportOf(peerID domain.PeerID, transportID string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	t, ok := p.transports[transportID]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return t, nil
}
