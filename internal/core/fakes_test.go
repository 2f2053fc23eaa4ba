package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kvale/meet/internal/domain"
)

// fakeConn records pushed events in delivery order.
type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type recordedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) events(t *testing.T) []recordedEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var e recordedEvent
		if err := json.Unmarshal(f, &e); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, e)
	}
	return out
}

func (c *fakeConn) eventTypes(t *testing.T) []string {
	t.Helper()
	evs := c.events(t)
	types := make([]string, len(evs))
	for i, e := range evs {
		types[i] = e.Type
	}
	return types
}

func (c *fakeConn) countType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, e := range c.events(t) {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// fakeEngine implements the engine boundary in memory.
type fakeEngine struct {
	mu          sync.Mutex
	failCreate  error
	createCalls int
	routers     []*fakeRouter
	onDied      func(error)
}

func (e *fakeEngine) CreateRouter(_ context.Context) (Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createCalls++
	if e.failCreate != nil {
		return nil, e.failCreate
	}
	r := &fakeRouter{canConsume: true}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *fakeEngine) OnDied(fn func(error)) { e.onDied = fn }
func (e *fakeEngine) Close()                {}

type fakeRouter struct {
	mu         sync.Mutex
	nextID     int
	closed     bool
	canConsume bool
}

func (r *fakeRouter) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
}

func (r *fakeRouter) CreateTransport(_ context.Context) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("router closed")
	}
	r.nextID++
	return &fakeTransport{id: fmt.Sprintf("t%d", r.nextID), router: r}, nil
}

func (r *fakeRouter) CanConsume(string, json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canConsume
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeTransport struct {
	id     string
	router *fakeRouter

	mu        sync.Mutex
	connected json.RawMessage
	closed    bool
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Params() TransportParams {
	return TransportParams{ID: t.id, Params: json.RawMessage(`{"sdp":"offer"}`)}
}

func (t *fakeTransport) Connect(_ context.Context, params json.RawMessage) error {
	t.mu.Lock()
	t.connected = params
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind string, _ json.RawMessage) (Producer, error) {
	t.router.mu.Lock()
	t.router.nextID++
	id := fmt.Sprintf("prod%d", t.router.nextID)
	t.router.mu.Unlock()
	return &fakeProducer{id: id, kind: kind}, nil
}

func (t *fakeTransport) Consume(_ context.Context, producerID string, _ json.RawMessage) (Consumer, error) {
	t.router.mu.Lock()
	t.router.nextID++
	id := fmt.Sprintf("cons%d", t.router.nextID)
	t.router.mu.Unlock()
	return &fakeConsumer{id: id, producerID: producerID}, nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProducer struct {
	id   string
	kind string

	mu      sync.Mutex
	onClose func()
	closed  bool
}

func (p *fakeProducer) ID() string   { return p.id }
func (p *fakeProducer) Kind() string { return p.kind }

func (p *fakeProducer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// engineClose simulates the engine reporting an external closure.
func (p *fakeProducer) engineClose() {
	p.mu.Lock()
	p.closed = true
	fn := p.onClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id         string
	producerID string

	mu      sync.Mutex
	resumed bool
	closed  bool
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }

func (c *fakeConsumer) Params() ConsumerParams {
	return ConsumerParams{ID: c.id, ProducerID: c.producerID, Kind: "audio"}
}

func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	c.resumed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// joinHost creates a room via the registry and admits the first peer.
func joinHost(t *testing.T, g *Registry, roomID string, peerID string) (*Room, *fakeConn) {
	t.Helper()
	room, err := g.GetOrCreate(context.Background(), domain.RoomID(roomID))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	conn := &fakeConn{}
	res, err := room.AddPeer(domain.PeerID(peerID), domain.Identity{Name: peerID, Lang: "en-US"}, conn)
	if err != nil {
		t.Fatalf("AddPeer(%s): %v", peerID, err)
	}
	if !res.Admitted || res.Role != domain.RoleHost {
		t.Fatalf("first join: got %+v, want admitted host", res)
	}
	return room, conn
}

// joinApproved adds a pending peer and approves it as hostID.
func joinApproved(t *testing.T, room *Room, hostID, peerID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	res, err := room.AddPeer(domain.PeerID(peerID), domain.Identity{Name: peerID, Lang: "en-US"}, conn)
	if err != nil {
		t.Fatalf("AddPeer(%s): %v", peerID, err)
	}
	if res.Admitted {
		t.Fatalf("AddPeer(%s): admitted immediately, want pending", peerID)
	}
	if !room.Approve(domain.PeerID(hostID), domain.PeerID(peerID)) {
		t.Fatalf("Approve(%s) failed", peerID)
	}
	return conn
}
