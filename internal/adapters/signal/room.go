package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
	"github.com/kvale/meet/internal/domain"
	"github.com/kvale/meet/internal/translate"
)

func (ctl *Controller) handleJoin(ctx context.Context, s *session, env envelope) {
	var p struct {
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
		Lang   string `json:"lang"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	ident, err := domain.NewIdentity(p.Name, p.Lang)
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}

	roomID := domain.RoomID(p.RoomID)
	var room *core.Room
	var res core.JoinResult
	// One retry: the room can be torn down between lookup and admission.
	for attempt := 0; attempt < 2; attempt++ {
		room, err = ctl.Registry.GetOrCreate(ctx, roomID)
		if err != nil {
			ctl.replyErr(s, env.ID, err)
			return
		}
		res, err = room.AddPeer(s.id, ident, s.conn)
		if err == nil {
			break
		}
		if !errors.Is(err, core.ErrRoomClosed) {
			ctl.replyErr(s, env.ID, err)
			return
		}
	}
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}

	s.setRoom(room, ident.Name)

	if !res.Admitted {
		ctl.reply(s, env.ID, map[string]any{"admitted": false, "waiting": true})
		return
	}
	ctl.reply(s, env.ID, map[string]any{
		"admitted": true,
		"role":     res.Role,
		"hostId":   res.Host.HostID,
		"hostLang": res.Host.HostLang,
		"peers":    res.Peers,
	})
}

func (ctl *Controller) handleApprove(s *session, env envelope) {
	var p struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	success := room.Approve(s.id, domain.PeerID(p.TargetID))
	ctl.reply(s, env.ID, map[string]bool{"success": success})
}

func (ctl *Controller) handleToggleAutoApprove(s *session, env envelope) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	enabled, err := room.SetAutoApprove(s.id, p.Enabled)
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, map[string]bool{"enabled": enabled})
}

// handleSubtitle relays a recognized utterance to everyone else. Host
// utterances are tagged so clients can make translation decisions, and the
// host-status broadcast goes out before the subtitle itself.
func (ctl *Controller) handleSubtitle(s *session, env envelope) {
	var p struct {
		Text string `json:"text"`
		Lang string `json:"lang"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Text == "" {
		return
	}
	room, ok := s.currentRoom()
	if !ok {
		return
	}

	isHost := room.IsHost(s.id)
	host := room.HostInfo()
	name := s.displayName()

	if isHost {
		room.Broadcast("host-status", map[string]any{
			"status":    "speaking",
			"hostName":  name,
			"timestamp": time.Now(),
		}, s.id)
	}

	payload := map[string]any{
		"peerId":   s.id,
		"name":     name,
		"text":     p.Text,
		"lang":     p.Lang,
		"isHost":   isHost,
		"hostLang": host.HostLang,
	}
	if isHost && ctl.Translator != nil {
		payload["translations"] = ctl.translateForRoom(room, s.id, p.Text, p.Lang)
	}
	room.Broadcast("subtitle", payload, s.id)
}

// translateForRoom fans the host utterance out to the distinct languages of
// the other active peers.
func (ctl *Controller) translateForRoom(room *core.Room, speaker domain.PeerID, text, lang string) map[string]string {
	targets := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, tag := range room.ActiveLangs(speaker) {
		base := translate.BaseLang(tag)
		if !seen[base] {
			seen[base] = true
			targets = append(targets, base)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return ctl.Translator.TranslateParallel(text, translate.BaseLang(lang), targets)
}

func (ctl *Controller) handleTranslationStatus(s *session, env envelope) {
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}
	room, ok := s.currentRoom()
	if !ok {
		return
	}
	if _, err := room.UpdateActivity(s.id, p.Status); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("translation status ignored")
	}
}

func (ctl *Controller) handleChat(s *session, env envelope) {
	var p struct {
		Text string `json:"text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Text == "" {
		return
	}
	room, ok := s.currentRoom()
	if !ok {
		return
	}
	name := p.Name
	if name == "" {
		name = s.displayName()
	}
	room.Broadcast("chat-message", map[string]any{
		"senderId": s.id,
		"name":     name,
		"text":     p.Text,
	}, s.id)
}
