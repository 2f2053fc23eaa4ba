package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/core"
)

// transportParams is the opaque payload inside core.TransportParams: the
// server's SDP offer the client answers via connectTransport.
type transportParams struct {
	SDP string `json:"sdp"`
}

// Transport wraps one PeerConnection. Inbound media (produce) arrives as
// remote tracks; outbound media (consume) is attached as local static RTP
// tracks fed by producer relays.
type Transport struct {
	id     string
	router *Router
	pc     *webrtc.PeerConnection
	offer  *webrtc.SessionDescription

	mu sync.Mutex
	// pending producers wait for their remote track, matched by kind in
	// arrival order.
	pending []*producer

	closed bool
}

func newTransport(ctx context.Context, router *Router) (*Transport, error) {
	pc, err := router.eng.newPeerConnection()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:     uuid.NewString(),
		router: router,
		pc:     pc,
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("transport", t.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track arrived")
		t.bindTrack(track)
	})

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}
	t.offer = pc.LocalDescription()

	return t, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams {
	sdp := ""
	if t.offer != nil {
		sdp = t.offer.SDP
	}
	raw, _ := json.Marshal(transportParams{SDP: sdp})
	return core.TransportParams{ID: t.id, Params: raw}
}

// Connect applies the client's SDP answer.
func (t *Transport) Connect(_ context.Context, params json.RawMessage) error {
	var p transportParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	})
}

func (t *Transport) Produce(_ context.Context, kind string, _ json.RawMessage) (core.Producer, error) {
	p := &producer{
		id:     uuid.NewString(),
		kind:   kind,
		relay:  newRelay(),
		router: t.router,
	}
	p.relay.onEnd = p.fireClose

	t.mu.Lock()
	t.pending = append(t.pending, p)
	t.mu.Unlock()

	t.router.registerProducer(p)
	return p, nil
}

// bindTrack matches an arriving remote track to the oldest pending producer
// of the same kind.
func (t *Transport) bindTrack(track *webrtc.TrackRemote) {
	kind := track.Kind().String()

	t.mu.Lock()
	var match *producer
	for i, p := range t.pending {
		if p.kind == kind {
			match = p
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if match == nil {
		log.Warn().Str("module", "rtc").Str("transport", t.id).Str("kind", kind).Msg("track without pending producer")
		return
	}
	match.relay.bind(track)
}

func (t *Transport) Consume(_ context.Context, producerID string, _ json.RawMessage) (core.Consumer, error) {
	prod, ok := t.router.producerByID(producerID)
	if !ok {
		return nil, core.ErrHandleNotFound
	}

	consumerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codecForKind(prod.kind), consumerID, producerID)
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	ot := newOutTrack(local)
	prod.relay.addOutTrack(consumerID, ot)

	return &consumer{
		id:         consumerID,
		producerID: producerID,
		kind:       prod.kind,
		out:        ot,
		relay:      prod.relay,
		pc:         t.pc,
		sender:     sender,
	}, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, p := range pending {
		p.stop()
		t.router.unregisterProducer(p.id)
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("close error")
	}
}

// producer implements core.Producer around a relay.
type producer struct {
	id   string
	kind string

	relay  *relay
	router *Router

	mu      sync.Mutex
	onClose func()

	localClose atomic.Bool
}

func (p *producer) ID() string   { return p.id }
func (p *producer) Kind() string { return p.kind }

func (p *producer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// Close is the local, explicit stop; the engine-originated close callback
// does not fire for it.
func (p *producer) Close() {
	p.localClose.Store(true)
	p.stop()
}

func (p *producer) stop() {
	p.relay.stop()
	p.router.unregisterProducer(p.id)
}

// fireClose runs when the source track ends on its own.
func (p *producer) fireClose() {
	p.router.unregisterProducer(p.id)
	if p.localClose.Load() {
		return
	}
	p.mu.Lock()
	fn := p.onClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// consumer implements core.Consumer around an out-track, created paused.
type consumer struct {
	id         string
	producerID string
	kind       string

	out    *outTrack
	relay  *relay
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
}

func (c *consumer) ID() string         { return c.id }
func (c *consumer) ProducerID() string { return c.producerID }

func (c *consumer) Params() core.ConsumerParams {
	codec := codecForKind(c.kind)
	rtp, _ := json.Marshal(map[string]any{
		"mimeType":  codec.MimeType,
		"clockRate": codec.ClockRate,
		"channels":  codec.Channels,
	})
	return core.ConsumerParams{
		ID:            c.id,
		ProducerID:    c.producerID,
		Kind:          c.kind,
		RTPParameters: rtp,
	}
}

func (c *consumer) Resume() error {
	c.out.markOk()
	return nil
}

func (c *consumer) Close() {
	c.relay.removeOutTrack(c.id)
	if err := c.pc.RemoveTrack(c.sender); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("consumer", c.id).Msg("remove track")
	}
}
