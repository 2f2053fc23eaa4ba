package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
)

// routerCapabilities is the descriptor handed to clients before they produce
// or consume. One entry per supported kind.
type routerCapabilities struct {
	Codecs []codecCapability `json:"codecs"`
}

type codecCapability struct {
	MimeType  string `json:"mimeType"`
	Kind      string `json:"kind"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

func codecForKind(kind string) webrtc.RTPCodecCapability {
	if kind == "video" {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

// Router is the per-room media hub: it creates transports and indexes
// producers so consumers on any transport can subscribe to them.
type Router struct {
	eng  *Engine
	caps json.RawMessage

	mu        sync.RWMutex
	producers map[string]*producer
	closed    bool
}

func newRouter(eng *Engine) *Router {
	caps, _ := json.Marshal(routerCapabilities{Codecs: []codecCapability{
		{MimeType: webrtc.MimeTypeOpus, Kind: "audio", ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, Kind: "video", ClockRate: 90000},
	}})
	return &Router{
		eng:       eng,
		caps:      caps,
		producers: make(map[string]*producer),
	}
}

func (r *Router) Capabilities() json.RawMessage { return r.caps }

func (r *Router) CreateTransport(ctx context.Context) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, core.ErrRoomClosed
	}
	return newTransport(ctx, r)
}

// CanConsume reports whether the declared capabilities include the producer's
// codec. A missing producer or an empty capability set is a mismatch.
func (r *Router) CanConsume(producerID string, capabilities json.RawMessage) bool {
	r.mu.RLock()
	prod, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	var caps routerCapabilities
	if err := json.Unmarshal(capabilities, &caps); err != nil {
		return false
	}
	want := codecForKind(prod.kind).MimeType
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, want) {
			return true
		}
	}
	return false
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	prods := make([]*producer, 0, len(r.producers))
	for _, p := range r.producers {
		prods = append(prods, p)
	}
	r.producers = make(map[string]*producer)
	r.mu.Unlock()

	for _, p := range prods {
		p.stop()
	}
	log.Info().Str("module", "rtc").Msg("router closed")
}

func (r *Router) registerProducer(p *producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producerByID(id string) (*producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}
