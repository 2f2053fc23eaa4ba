package core

import (
	"time"

	"github.com/kvale/meet/internal/domain"
)

// Peer is one connected participant's session state within a room.
// All mutable fields are guarded by the owning room's lock; the signal
// connection itself is immutable after construction and safe to use
// concurrently.
type Peer struct {
	ID       domain.PeerID
	Identity domain.Identity
	Role     domain.Role
	JoinedAt time.Time

	conn SignalConnection

	transports map[string]Transport
	producers  map[string]Producer
	consumers  map[string]Consumer

	// gone marks the peer as tearing down. In-flight engine results for a
	// gone peer must not re-register bookkeeping.
	gone bool
}

func newPeer(id domain.PeerID, ident domain.Identity, conn SignalConnection) *Peer {
	return &Peer{
		ID:         id,
		Identity:   ident,
		Role:       domain.RoleParticipant,
		conn:       conn,
		transports: make(map[string]Transport),
		producers:  make(map[string]Producer),
		consumers:  make(map[string]Consumer),
	}
}

func (p *Peer) IsHost() bool { return p.Role == domain.RoleHost }

// Send pushes an event to this peer only.
func (p *Peer) Send(event string, data any) {
	sendEvent(p.conn, event, data)
}

// ProducerInfo is the read-only producer view carried in peer lists.
type ProducerInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// PeerInfo is a read-only view for wire payloads (no transport fields).
type PeerInfo struct {
	ID        domain.PeerID  `json:"id"`
	Name      string         `json:"name"`
	Lang      string         `json:"lang"`
	IsAdmin   bool           `json:"isAdmin"`
	JoinedAt  time.Time      `json:"joinedAt"`
	Producers []ProducerInfo `json:"producers"`
}

func (p *Peer) info() PeerInfo {
	producers := make([]ProducerInfo, 0, len(p.producers))
	for _, prod := range p.producers {
		producers = append(producers, ProducerInfo{ID: prod.ID(), Kind: prod.Kind()})
	}
	return PeerInfo{
		ID:        p.ID,
		Name:      p.Identity.Name,
		Lang:      p.Identity.Lang,
		IsAdmin:   p.IsHost(),
		JoinedAt:  p.JoinedAt,
		Producers: producers,
	}
}

// drainHandles detaches every media handle from the peer and returns them for
// closing outside the room lock. The peer is marked gone so late engine
// results cannot re-register.
func (p *Peer) drainHandles() (ts []Transport, prods []Producer, cons []Consumer) {
	p.gone = true
	for id, t := range p.transports {
		ts = append(ts, t)
		delete(p.transports, id)
	}
	for id, prod := range p.producers {
		prods = append(prods, prod)
		delete(p.producers, id)
	}
	for id, c := range p.consumers {
		cons = append(cons, c)
		delete(p.consumers, id)
	}
	return ts, prods, cons
}
