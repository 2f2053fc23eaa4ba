package rtc

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type trackState int32

const (
	// trackStatePaused: consumer created, media held back until resume.
	trackStatePaused trackState = iota
	trackStateOk
	trackStateDelete
)

// outTrack is one outgoing track to a subscriber.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStatePaused
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }
func (ot *outTrack) markOk()              { ot.state.Store(int32(trackStateOk)) }
func (ot *outTrack) markDelete()          { ot.state.Store(int32(trackStateDelete)) }

// relay reads RTP from a producer's remote track and forwards it to every
// subscribed out-track.
type relay struct {
	mu        sync.RWMutex
	src       *webrtc.TrackRemote
	outTracks map[string]*outTrack

	stopped atomic.Bool

	// onEnd fires when the source track ends on its own (not a local stop).
	onEnd func()
}

func newRelay() *relay {
	return &relay{outTracks: make(map[string]*outTrack)}
}

// bind attaches the remote track and starts the forwarding loop.
func (r *relay) bind(src *webrtc.TrackRemote) {
	r.mu.Lock()
	r.src = src
	r.mu.Unlock()

	logger := log.With().Str("module", "rtc.relay").Str("track", src.ID()).Logger()
	go r.loop(src, &logger)
}

func (r *relay) loop(src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		if r.stopped.Load() {
			r.markAllDelete()
			return
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			if !r.stopped.Swap(true) && r.onEnd != nil {
				r.onEnd()
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, id)
		case trackStatePaused:
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("out", id).Msg("relay write error")
				ot.markDelete()
				dirty = append(dirty, id)
			}
		}
	}

	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outTracks, id)
		}
		r.mu.Unlock()
	}
}

func (r *relay) addOutTrack(id string, ot *outTrack) {
	r.mu.Lock()
	r.outTracks[id] = ot
	r.mu.Unlock()
}

func (r *relay) removeOutTrack(id string) {
	r.mu.Lock()
	if ot, ok := r.outTracks[id]; ok {
		ot.markDelete()
		delete(r.outTracks, id)
	}
	r.mu.Unlock()
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
	r.mu.Unlock()
}

// stop ends the relay locally; onEnd does not fire.
func (r *relay) stop() {
	r.stopped.Store(true)
	r.markAllDelete()
}
