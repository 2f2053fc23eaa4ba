// Package signal is the per-connection event dispatcher: it translates
// inbound request/reply envelopes into room operations and outbound events
// into per-peer pushes. It holds no room state of its own.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
	"github.com/kvale/meet/internal/domain"
	"github.com/kvale/meet/internal/translate"
)

type Controller struct {
	Registry *core.Registry
	// Translator is optional; when set, host subtitles are translated
	// server-side into the languages of the active peers.
	Translator *translate.Client
	ReadLimit  int64
}

func NewController(registry *core.Registry, translator *translate.Client, readLimit int64) *Controller {
	return &Controller{Registry: registry, Translator: translator, ReadLimit: readLimit}
}

// Conn is the signaling endpoint for one peer. The buffered send channel
// preserves per-connection FIFO delivery; TrySend never blocks.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is connection-scoped context: which peer this connection is and
// which room it joined. Guarded by mu because the room is set by the join
// handler and read by the disconnect path.
type session struct {
	id   domain.PeerID
	conn *Conn

	mu   sync.Mutex
	room *core.Room
	name string
}

func (s *session) setRoom(room *core.Room, name string) {
	s.mu.Lock()
	s.room = room
	s.name = name
	s.mu.Unlock()
}

func (s *session) currentRoom() (*core.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != nil
}

func (s *session) displayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the HTTP request and runs the connection pumps.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &Conn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}
	sess := &session{id: sid, conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		// Closing the websocket here unblocks a readPump parked in
		// ReadMessage, so the disconnect path always runs.
		conn.Close()
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sess)
		cancel()
	}()
}
