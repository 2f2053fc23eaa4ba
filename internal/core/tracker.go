package core

import (
	"sort"
	"sync"
	"time"

	"github.com/kvale/meet/internal/domain"
)

// Translation activity statuses reported by clients.
const (
	StatusTranslating = "translating"
	StatusPlaying     = "playing"
	StatusDone        = "done"
	StatusIdle        = "idle"
)

// ActivityEntry says a non-host peer is currently translating or playing
// host speech. Purely observational, never authoritative for media state.
type ActivityEntry struct {
	ID        domain.PeerID `json:"id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// ActivitySummary drives host-facing feedback.
type ActivitySummary struct {
	Count   int             `json:"count"`
	Entries []ActivityEntry `json:"entries"`
}

// ActivityTracker is the ephemeral per-room map of who is translating or
// playing translated audio right now.
type ActivityTracker struct {
	mu      sync.Mutex
	entries map[domain.PeerID]ActivityEntry
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{entries: make(map[domain.PeerID]ActivityEntry)}
}

// Update upserts on translating/playing, deletes on done/idle, and returns
// the aggregated summary.
func (t *ActivityTracker) Update(id domain.PeerID, name, status string) ActivitySummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status {
	case StatusTranslating, StatusPlaying:
		t.entries[id] = ActivityEntry{ID: id, Name: name, Status: status, Timestamp: time.Now()}
	default:
		delete(t.entries, id)
	}
	return t.summaryLocked()
}

// Remove drops a departing peer's entry, if any.
func (t *ActivityTracker) Remove(id domain.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *ActivityTracker) Summary() ActivitySummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *ActivityTracker) summaryLocked() ActivitySummary {
	out := make([]ActivityEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return ActivitySummary{Count: len(out), Entries: out}
}
