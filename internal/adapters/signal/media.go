package signal

import (
	"context"
	"encoding/json"
	"errors"
)

func (ctl *Controller) handleRouterCapabilities(s *session, env envelope) {
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	caps := room.RouterCapabilities()
	if caps == nil {
		ctl.reply(s, env.ID, nil)
		return
	}
	ctl.reply(s, env.ID, caps)
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, s *session, env envelope) {
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	params, err := room.CreateTransport(ctx, s.id)
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, params)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, s *session, env envelope) {
	var p struct {
		TransportID string          `json:"transportId"`
		DTLSParams  json.RawMessage `json:"dtlsParams"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	if err := room.ConnectTransport(ctx, s.id, p.TransportID, p.DTLSParams); err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, map[string]bool{"success": true})
}

func (ctl *Controller) handleProduce(ctx context.Context, s *session, env envelope) {
	var p struct {
		TransportID string          `json:"transportId"`
		Kind        string          `json:"kind"`
		RTPParams   json.RawMessage `json:"rtpParams"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	id, err := room.Produce(ctx, s.id, p.TransportID, p.Kind, p.RTPParams)
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, map[string]string{"id": id})
}

func (ctl *Controller) handleConsume(ctx context.Context, s *session, env envelope) {
	var p struct {
		TransportID  string          `json:"transportId"`
		ProducerID   string          `json:"producerId"`
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	params, err := room.Consume(ctx, s.id, p.TransportID, p.ProducerID, p.Capabilities)
	if err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	// A nil result is a negotiation mismatch, not a failure.
	ctl.reply(s, env.ID, params)
}

func (ctl *Controller) handleResume(s *session, env envelope) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	if err := room.Resume(s.id, p.ConsumerID); err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, map[string]bool{"success": true})
}

func (ctl *Controller) handleCloseProducer(s *session, env envelope) {
	var p struct {
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.replyErr(s, env.ID, errors.New("bad payload"))
		return
	}
	room, ok := ctl.roomOf(s, env.ID)
	if !ok {
		return
	}
	if err := room.CloseProducer(s.id, p.ProducerID); err != nil {
		ctl.replyErr(s, env.ID, err)
		return
	}
	ctl.reply(s, env.ID, map[string]bool{"success": true})
}
