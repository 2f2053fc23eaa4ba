package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
)

// envelope is the wire frame. Requests carry a client-chosen id echoed in the
// reply; pushes carry no id.
type envelope struct {
	ID   int64           `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(s.id)).Msg("readPump closing")
		if room, ok := s.currentRoom(); ok {
			room.RemovePeer(s.id)
		}
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, s, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, s *session, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join-room":
		ctl.handleJoin(ctx, s, env)
	case "approve-peer":
		ctl.handleApprove(s, env)
	case "toggle-auto-approve":
		ctl.handleToggleAutoApprove(s, env)
	case "subtitle":
		ctl.handleSubtitle(s, env)
	case "translation-status":
		ctl.handleTranslationStatus(s, env)
	case "chat-message":
		ctl.handleChat(s, env)
	case "getRouterCapabilities":
		ctl.handleRouterCapabilities(s, env)
	case "createTransport":
		ctl.handleCreateTransport(ctx, s, env)
	case "connectTransport":
		ctl.handleConnectTransport(ctx, s, env)
	case "produce":
		ctl.handleProduce(ctx, s, env)
	case "consume":
		ctl.handleConsume(ctx, s, env)
	case "resume":
		ctl.handleResume(s, env)
	case "close-producer":
		ctl.handleCloseProducer(s, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

// reply answers a request over the session's own connection.
func (ctl *Controller) reply(s *session, reqID int64, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	out, err := json.Marshal(envelope{ID: reqID, Type: "reply", Data: b})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply envelope marshal")
		return
	}
	_ = s.conn.TrySend(out)
}

// replyErr surfaces a refused operation with a reason string.
func (ctl *Controller) replyErr(s *session, reqID int64, err error) {
	ctl.reply(s, reqID, map[string]string{"error": reason(err)})
}

// reason maps the failure taxonomy to client-facing strings.
func reason(err error) string {
	switch {
	case errors.Is(err, core.ErrPeerNotFound):
		return "Peer not found"
	case errors.Is(err, core.ErrHandleNotFound):
		return "Session handle not found"
	case errors.Is(err, core.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, core.ErrRoomClosed):
		return "Room closed"
	default:
		return err.Error()
	}
}

// roomOf resolves the session's room or refuses the request.
func (ctl *Controller) roomOf(s *session, reqID int64) (*core.Room, bool) {
	room, ok := s.currentRoom()
	if !ok {
		ctl.replyErr(s, reqID, core.ErrPeerNotFound)
		return nil, false
	}
	return room, true
}
