package core

import (
	"testing"
	"time"
)

func TestTrackerUpsertAndClear(t *testing.T) {
	tr := NewActivityTracker()

	s := tr.Update("p1", "Ann", StatusTranslating)
	if s.Count != 1 || s.Entries[0].Status != StatusTranslating {
		t.Fatalf("summary: %+v", s)
	}

	// Same peer moving to playing replaces, not duplicates.
	s = tr.Update("p1", "Ann", StatusPlaying)
	if s.Count != 1 || s.Entries[0].Status != StatusPlaying {
		t.Fatalf("summary: %+v", s)
	}

	s = tr.Update("p1", "Ann", StatusDone)
	if s.Count != 0 {
		t.Fatalf("done must clear the entry: %+v", s)
	}
}

func TestTrackerOrdersByTimestamp(t *testing.T) {
	tr := NewActivityTracker()
	tr.Update("p1", "Ann", StatusTranslating)
	time.Sleep(time.Millisecond)
	tr.Update("p2", "Ben", StatusTranslating)

	s := tr.Summary()
	if s.Count != 2 {
		t.Fatalf("summary: %+v", s)
	}
	if s.Entries[0].ID != "p1" || s.Entries[1].ID != "p2" {
		t.Fatalf("order: %+v", s.Entries)
	}
}

func TestTrackerRemove(t *testing.T) {
	tr := NewActivityTracker()
	tr.Update("p1", "Ann", StatusPlaying)
	tr.Remove("p1")
	tr.Remove("p1")
	if s := tr.Summary(); s.Count != 0 {
		t.Fatalf("summary: %+v", s)
	}
}

func TestTrackerUnknownStatusClears(t *testing.T) {
	tr := NewActivityTracker()
	tr.Update("p1", "Ann", StatusTranslating)
	if s := tr.Update("p1", "Ann", "garbage"); s.Count != 0 {
		t.Fatalf("unknown status should clear: %+v", s)
	}
}
