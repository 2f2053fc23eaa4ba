package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/domain"
)

// HostLeftReason is sent with room-closed when the host disconnects.
const HostLeftReason = "Host ended the meeting"

// JoinResult is the admission outcome returned to the joining connection.
type JoinResult struct {
	Admitted bool
	Role     domain.Role
	Host     domain.HostInfo
	Peers    []PeerInfo
}

// Room owns one media router, the active and pending peer sets, the host
// pointer and the auto-approve flag. All of those are guarded by mu; engine
// calls never happen under it (see media.go).
type Room struct {
	ID domain.RoomID

	mu      sync.Mutex
	router  Router
	peers   map[domain.PeerID]*Peer
	pending map[domain.PeerID]*Peer

	hostID      domain.PeerID
	hostLang    string
	autoApprove bool
	closed      bool

	// deps maps producerID -> consumerID -> owning peer, so producer-close
	// cascades are driven by an explicit index instead of engine callbacks.
	deps map[string]map[string]domain.PeerID

	tracker *ActivityTracker

	// deregister removes this room from the registry. Called at most once.
	deregister func()
}

func NewRoom(id domain.RoomID, router Router, deregister func()) *Room {
	return &Room{
		ID:         id,
		router:     router,
		peers:      make(map[domain.PeerID]*Peer),
		pending:    make(map[domain.PeerID]*Peer),
		deps:       make(map[string]map[string]domain.PeerID),
		tracker:    NewActivityTracker(),
		deregister: deregister,
	}
}

// AddPeer runs the admission gate. The first peer becomes host and is
// admitted immediately; with auto-approve on, later peers are admitted as
// participants; otherwise they are queued and every active host is notified.
func (r *Room) AddPeer(id domain.PeerID, ident domain.Identity, conn SignalConnection) (JoinResult, error) {
	p := newPeer(id, ident, conn)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return JoinResult{}, ErrRoomClosed
	}

	// The connection id is stable for the connection lifetime, so a repeated
	// join is the same peer asking again: answer with current state instead of
	// creating a second record for the same id.
	if existing, ok := r.peers[id]; ok {
		res := JoinResult{Admitted: true, Role: existing.Role, Host: r.hostInfoLocked(), Peers: r.peerListLocked()}
		r.mu.Unlock()
		return res, nil
	}
	if _, ok := r.pending[id]; ok {
		r.mu.Unlock()
		return JoinResult{Admitted: false}, nil
	}

	if len(r.peers) == 0 {
		p.Role = domain.RoleHost
		p.JoinedAt = time.Now()
		r.peers[id] = p
		r.hostID = id
		r.hostLang = ident.Lang
		res := JoinResult{Admitted: true, Role: domain.RoleHost, Host: r.hostInfoLocked(), Peers: r.peerListLocked()}
		r.mu.Unlock()
		log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("peer", string(id)).Msg("host joined")
		return res, nil
	}

	if r.autoApprove {
		p.JoinedAt = time.Now()
		r.peers[id] = p
		res := JoinResult{Admitted: true, Role: domain.RoleParticipant, Host: r.hostInfoLocked(), Peers: r.peerListLocked()}
		r.broadcastLocked("new-peer", p.info(), id)
		r.mu.Unlock()
		log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("peer", string(id)).Msg("auto-approved")
		return res, nil
	}

	r.pending[id] = p
	r.notifyHostsLocked("join-request", map[string]any{"socketId": id, "name": ident.Name})
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("peer", string(id)).Msg("queued for approval")
	return JoinResult{Admitted: false}, nil
}

// Approve moves a pending peer to active. Fails without state change when the
// invoker is not an active host or the target is not pending.
func (r *Room) Approve(hostID, targetID domain.PeerID) bool {
	r.mu.Lock()
	invoker, ok := r.peers[hostID]
	if !ok || !invoker.IsHost() {
		r.mu.Unlock()
		return false
	}
	ok = r.admitPendingLocked(targetID)
	r.mu.Unlock()
	return ok
}

// admitPendingLocked performs the shared approval path: pending -> active
// with a fresh join timestamp, room-joined to the target, new-peer to
// everyone else.
func (r *Room) admitPendingLocked(targetID domain.PeerID) bool {
	target, ok := r.pending[targetID]
	if !ok {
		return false
	}
	delete(r.pending, targetID)
	target.JoinedAt = time.Now()
	r.peers[targetID] = target

	target.Send("room-joined", map[string]any{
		"roomId":   r.ID,
		"isAdmin":  false,
		"hostId":   r.hostID,
		"hostLang": r.hostLang,
		"peers":    r.peerListLocked(),
	})
	r.broadcastLocked("new-peer", target.info(), targetID)
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("peer", string(targetID)).Msg("approved")
	return true
}

// SetAutoApprove toggles the room policy. Turning it on admits the snapshot
// of peers pending at toggle time; arrivals during the sweep stay pending.
func (r *Room) SetAutoApprove(hostID domain.PeerID, enabled bool) (bool, error) {
	r.mu.Lock()
	invoker, ok := r.peers[hostID]
	if !ok || !invoker.IsHost() {
		r.mu.Unlock()
		return false, ErrUnauthorized
	}
	r.autoApprove = enabled
	if enabled {
		snapshot := make([]domain.PeerID, 0, len(r.pending))
		for id := range r.pending {
			snapshot = append(snapshot, id)
		}
		for _, id := range snapshot {
			r.admitPendingLocked(id)
		}
	}
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).Bool("enabled", enabled).Msg("auto-approve toggled")
	return enabled, nil
}

// Broadcast pushes an event to every active peer except exclude ("" excludes
// nobody). Sends happen under the room lock so each recipient sees events in
// the order the room issued them; TrySend never blocks.
func (r *Room) Broadcast(event string, data any, exclude domain.PeerID) {
	r.mu.Lock()
	r.broadcastLocked(event, data, exclude)
	r.mu.Unlock()
}

func (r *Room) broadcastLocked(event string, data any, exclude domain.PeerID) {
	for id, p := range r.peers {
		if id == exclude {
			continue
		}
		p.Send(event, data)
	}
}

// NotifyHosts pushes only to host-role peers. Normally that is one peer, but
// the primitive does not assume singularity.
func (r *Room) NotifyHosts(event string, data any) {
	r.mu.Lock()
	r.notifyHostsLocked(event, data)
	r.mu.Unlock()
}

func (r *Room) notifyHostsLocked(event string, data any) {
	for _, p := range r.peers {
		if p.IsHost() {
			p.Send(event, data)
		}
	}
}

// RemovePeer handles departure. Host departure terminates the room for
// everyone; a non-host departure removes the peer and destroys the room only
// when both sets become empty. Every media handle owned by departing peers is
// released.
func (r *Room) RemovePeer(id domain.PeerID) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if _, ok := r.pending[id]; ok {
		delete(r.pending, id)
		var router Router
		if len(r.peers) == 0 && len(r.pending) == 0 {
			router = r.markClosedLocked()
		}
		r.mu.Unlock()
		r.finishShutdown(router)
		return
	}

	p, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	r.tracker.Remove(id)

	if p.IsHost() {
		r.announceClosedLocked(HostLeftReason, id)
		closers := r.drainAllLocked()
		r.peers = make(map[domain.PeerID]*Peer)
		r.pending = make(map[domain.PeerID]*Peer)
		router := r.markClosedLocked()
		r.mu.Unlock()

		runClosers(closers)
		r.finishShutdown(router)
		log.Info().Str("module", "core.room").Str("room", string(r.ID)).Msg("host left, room terminated")
		return
	}

	closers, notes := r.drainPeerLocked(p)
	delete(r.peers, id)
	var router Router
	if len(r.peers) == 0 && len(r.pending) == 0 {
		router = r.markClosedLocked()
	} else {
		r.broadcastLocked("peer-left", map[string]any{"id": id}, id)
	}
	r.mu.Unlock()

	runClosers(closers)
	deliverClosedNotes(notes)
	r.finishShutdown(router)
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("peer", string(id)).Msg("peer removed")
}

// drainPeerLocked releases the peer's handles and cascades its producers to
// dependent consumers. Returned closers run outside the lock.
func (r *Room) drainPeerLocked(p *Peer) ([]func(), []closedNote) {
	ts, prods, cons := p.drainHandles()

	var closers []func()
	var notes []closedNote
	for _, prod := range prods {
		prod := prod
		notes = append(notes, r.cascadeProducerLocked(prod.ID())...)
		closers = append(closers, prod.Close)
	}
	for _, c := range cons {
		c := c
		r.dropDependencyLocked(c.ProducerID(), c.ID())
		closers = append(closers, c.Close)
	}
	for _, t := range ts {
		t := t
		closers = append(closers, t.Close)
	}
	return closers, notes
}

// announceClosedLocked tells every connection, pending ones included, that
// the room is over. A pending peer waiting on approval would otherwise wait
// forever.
func (r *Room) announceClosedLocked(reason string, exclude domain.PeerID) {
	payload := map[string]any{"reason": reason}
	r.broadcastLocked("room-closed", payload, exclude)
	for id, p := range r.pending {
		if id == exclude {
			continue
		}
		p.Send("room-closed", payload)
	}
}

// drainAllLocked releases every peer's handles for full teardown. Cascaded
// consumers are closed too, but consumer-closed is not sent: room-closed
// supersedes per-consumer notices.
func (r *Room) drainAllLocked() []func() {
	var closers []func()
	for _, peer := range r.peers {
		c, notes := r.drainPeerLocked(peer)
		closers = append(closers, c...)
		for _, n := range notes {
			closers = append(closers, n.cons.Close)
		}
	}
	return closers
}

// markClosedLocked flips the room to closed so no admission can slip in
// between unlock and teardown, and detaches the router for closing.
func (r *Room) markClosedLocked() Router {
	r.closed = true
	router := r.router
	r.router = nil
	return router
}

// finishShutdown releases the router and deregisters the room. A live room
// always has a router, so a nil argument means the departure did not destroy
// the room and there is nothing to do.
func (r *Room) finishShutdown(router Router) {
	if router == nil {
		return
	}
	router.Close()
	if r.deregister != nil {
		r.deregister()
	}
}

func runClosers(closers []func()) {
	for _, c := range closers {
		c()
	}
}

// Terminate closes the room for everyone, releasing all media handles.
// Used by registry shutdown.
func (r *Room) Terminate(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.announceClosedLocked(reason, "")
	closers := r.drainAllLocked()
	r.peers = make(map[domain.PeerID]*Peer)
	r.pending = make(map[domain.PeerID]*Peer)
	router := r.markClosedLocked()
	r.mu.Unlock()

	runClosers(closers)
	r.finishShutdown(router)
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).Str("reason", reason).Msg("room terminated")
}

// IsHost reports whether the peer is an active host.
func (r *Room) IsHost(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return ok && p.IsHost()
}

// HostInfo returns the current host reference, used by the subtitle relay to
// tag host utterances.
func (r *Room) HostInfo() domain.HostInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostInfoLocked()
}

func (r *Room) hostInfoLocked() domain.HostInfo {
	return domain.HostInfo{HostID: r.hostID, HostLang: r.hostLang}
}

// PeerMeta returns the wire view of an active peer.
func (r *Room) PeerMeta(id domain.PeerID) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return p.info(), true
}

// Peers returns the active peer list snapshot.
func (r *Room) Peers() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerListLocked()
}

func (r *Room) peerListLocked() []PeerInfo {
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.info())
	}
	return out
}

// Counts reports active and pending set sizes.
func (r *Room) Counts() (active, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers), len(r.pending)
}

// ActiveLangs returns the distinct preferred languages of active peers,
// excluding one peer (normally the speaker).
func (r *Room) ActiveLangs(exclude domain.PeerID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0, len(r.peers))
	for id, p := range r.peers {
		if id == exclude || seen[p.Identity.Lang] {
			continue
		}
		seen[p.Identity.Lang] = true
		out = append(out, p.Identity.Lang)
	}
	return out
}

// UpdateActivity records a translation status report and pushes the
// aggregated summary to the hosts.
func (r *Room) UpdateActivity(id domain.PeerID, status string) (ActivitySummary, error) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return ActivitySummary{}, ErrPeerNotFound
	}
	name := p.Identity.Name
	r.mu.Unlock()

	summary := r.tracker.Update(id, name, status)
	r.NotifyHosts("translation-activity", map[string]any{
		"clientId":   id,
		"clientName": name,
		"status":     status,
		"summary":    summary,
	})
	return summary, nil
}
