package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kvale/meet/internal/domain"
)

// Registry is the process-wide room map with create-on-first-join and
// destroy-on-empty-or-host-departure lifecycle. It is an explicit object with
// injected engine and teardown, not an ambient singleton.
type Registry struct {
	engine Engine

	mu    sync.Mutex
	rooms map[domain.RoomID]*regEntry
}

// regEntry serializes concurrent first joins to the same id: the first caller
// creates, everyone else waits on done. A failed creation removes the entry
// so a later join can try again.
type regEntry struct {
	done chan struct{}
	room *Room
	err  error
}

func NewRegistry(engine Engine) *Registry {
	return &Registry{
		engine: engine,
		rooms:  make(map[domain.RoomID]*regEntry),
	}
}

// GetOrCreate returns the room for id, creating and initializing it (one
// router request to the engine) iff none exists. Engine failure propagates as
// a creation failure and leaves no partial room registered.
func (g *Registry) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	g.mu.Lock()
	if e, ok := g.rooms[id]; ok {
		g.mu.Unlock()
		<-e.done
		if e.err != nil {
			return nil, e.err
		}
		return e.room, nil
	}
	e := &regEntry{done: make(chan struct{})}
	g.rooms[id] = e
	g.mu.Unlock()

	router, err := g.engine.CreateRouter(ctx)
	if err != nil {
		g.mu.Lock()
		delete(g.rooms, id)
		g.mu.Unlock()
		e.err = fmt.Errorf("create router: %w", err)
		close(e.done)
		log.Error().Err(err).Str("module", "core.registry").Str("room", string(id)).Msg("room creation failed")
		return nil, e.err
	}

	e.room = NewRoom(id, router, func() { g.Remove(id) })
	close(e.done)
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return e.room, nil
}

// Get returns an existing, fully created room.
func (g *Registry) Get(id domain.RoomID) (*Room, bool) {
	g.mu.Lock()
	e, ok := g.rooms[id]
	g.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
	default:
		return nil, false
	}
	if e.err != nil {
		return nil, false
	}
	return e.room, true
}

// Remove deregisters a room id. Idempotent.
func (g *Registry) Remove(id domain.RoomID) {
	g.mu.Lock()
	if _, ok := g.rooms[id]; ok {
		delete(g.rooms, id)
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room removed")
	}
	g.mu.Unlock()
}

// RoomSummary is the read-only registry view for the rooms API.
type RoomSummary struct {
	ID      domain.RoomID `json:"id"`
	Active  int           `json:"active"`
	Pending int           `json:"pending"`
}

func (g *Registry) List() []RoomSummary {
	g.mu.Lock()
	entries := make([]*regEntry, 0, len(g.rooms))
	for _, e := range g.rooms {
		entries = append(entries, e)
	}
	g.mu.Unlock()

	out := make([]RoomSummary, 0, len(entries))
	for _, e := range entries {
		select {
		case <-e.done:
		default:
			continue
		}
		if e.err != nil {
			continue
		}
		active, pending := e.room.Counts()
		out = append(out, RoomSummary{ID: e.room.ID, Active: active, Pending: pending})
	}
	return out
}

// Shutdown terminates every room, used for orderly process teardown.
func (g *Registry) Shutdown(reason string) {
	g.mu.Lock()
	entries := make([]*regEntry, 0, len(g.rooms))
	for _, e := range g.rooms {
		entries = append(entries, e)
	}
	g.mu.Unlock()

	for _, e := range entries {
		<-e.done
		if e.err == nil {
			e.room.Terminate(reason)
		}
	}
}
