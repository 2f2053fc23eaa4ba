// Package rtc implements the core engine boundary on pion/webrtc. A producer
// is a remote track with an RTP relay loop; a consumer is a local static RTP
// track fed by that relay.
package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
)

// diedThreshold is how many consecutive peer-connection failures we tolerate
// before declaring the engine dead and asking the process to shut down.
const diedThreshold = 5

type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration

	mu       sync.Mutex
	onDied   func(error)
	failures int
	died     bool
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

func NewEngine(iceServers []webrtc.ICEServer) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return &Engine{
		api: api,
		cfg: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.died {
		return nil, core.ErrRoomClosed
	}
	return newRouter(e), nil
}

func (e *Engine) OnDied(fn func(error)) {
	e.mu.Lock()
	e.onDied = fn
	e.mu.Unlock()
}

func (e *Engine) Close() {}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		e.noteFailure(err)
		return nil, err
	}
	e.noteSuccess()
	return pc, nil
}

func (e *Engine) noteFailure(err error) {
	e.mu.Lock()
	e.failures++
	fatal := e.failures >= diedThreshold && !e.died
	if fatal {
		e.died = true
	}
	fn := e.onDied
	e.mu.Unlock()

	if fatal {
		log.Error().Err(err).Str("module", "rtc").Int("failures", diedThreshold).Msg("engine declared dead")
		if fn != nil {
			fn(err)
		}
	}
}

func (e *Engine) noteSuccess() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
}
