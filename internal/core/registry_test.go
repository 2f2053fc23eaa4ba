package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kvale/meet/internal/domain"
)

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	eng := &fakeEngine{}
	g := NewRegistry(eng)

	a, err := g.GetOrCreate(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.GetOrCreate(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same id must map to the same room")
	}
	if eng.createCalls != 1 {
		t.Fatalf("router created %d times", eng.createCalls)
	}
}

func TestConcurrentFirstJoinsCreateOnce(t *testing.T) {
	eng := &fakeEngine{}
	g := NewRegistry(eng)

	const n = 16
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := g.GetOrCreate(context.Background(), "r1")
			if err != nil {
				t.Error(err)
				return
			}
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatal("concurrent joins got different rooms")
		}
	}
	if eng.createCalls != 1 {
		t.Fatalf("router created %d times", eng.createCalls)
	}
}

func TestCreationFailureLeavesNoRoom(t *testing.T) {
	boom := errors.New("no udp ports")
	eng := &fakeEngine{failCreate: boom}
	g := NewRegistry(eng)

	if _, err := g.GetOrCreate(context.Background(), "r1"); !errors.Is(err, boom) {
		t.Fatalf("want wrapped engine error, got %v", err)
	}
	if _, ok := g.Get("r1"); ok {
		t.Fatal("failed creation must not leave a room behind")
	}

	// A later attempt starts from scratch and succeeds.
	eng.mu.Lock()
	eng.failCreate = nil
	eng.mu.Unlock()
	if _, err := g.GetOrCreate(context.Background(), "r1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	g := NewRegistry(&fakeEngine{})
	if _, err := g.GetOrCreate(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	g.Remove("r1")
	g.Remove("r1")
	if _, ok := g.Get("r1"); ok {
		t.Fatal("room should be gone")
	}
}

func TestListReportsCounts(t *testing.T) {
	g := NewRegistry(&fakeEngine{})
	room, _ := joinHost(t, g, "r1", "alice")
	if _, err := room.AddPeer("bob", domain.Identity{Name: "Bob", Lang: "en-US"}, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	list := g.List()
	if len(list) != 1 {
		t.Fatalf("list: %+v", list)
	}
	if list[0].ID != "r1" || list[0].Active != 1 || list[0].Pending != 1 {
		t.Fatalf("summary: %+v", list[0])
	}
}

func TestShutdownClosesEveryRoom(t *testing.T) {
	eng := &fakeEngine{}
	g := NewRegistry(eng)
	_, aliceConn := joinHost(t, g, "r1", "alice")
	_, carolConn := joinHost(t, g, "r2", "carol")

	g.Shutdown("Server shutting down")

	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "carol": carolConn} {
		evs := conn.events(t)
		if len(evs) == 0 || evs[len(evs)-1].Type != "room-closed" {
			t.Fatalf("%s events: %v", name, conn.eventTypes(t))
		}
	}
	if len(g.List()) != 0 {
		t.Fatalf("rooms survived shutdown: %+v", g.List())
	}
	for _, r := range eng.routers {
		if !r.isClosed() {
			t.Fatal("router leaked through shutdown")
		}
	}
}
