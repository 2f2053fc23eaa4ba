package http

import (
	"context"
	"encoding/json"
	nhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kvale/meet/internal/adapters/signal"
	"github.com/kvale/meet/internal/config"
	"github.com/kvale/meet/internal/core"
)

type stubEngine struct{}

func (stubEngine) CreateRouter(context.Context) (core.Router, error) { return stubRouter{}, nil }
func (stubEngine) OnDied(func(error))                                {}
func (stubEngine) Close()                                            {}

type stubRouter struct{}

func (stubRouter) Capabilities() json.RawMessage                           { return nil }
func (stubRouter) CreateTransport(context.Context) (core.Transport, error) { return nil, nil }
func (stubRouter) CanConsume(string, json.RawMessage) bool                 { return false }
func (stubRouter) Close()                                                  {}

func newTestRouter(t *testing.T) (*core.Registry, nhttp.Handler) {
	t.Helper()
	registry := core.NewRegistry(stubEngine{})
	cfg := &config.Config{Mode: "release", StaticPath: t.TempDir(), Secret: "test"}
	ctl := signal.NewController(registry, nil, 0)
	return registry, SetupRouter(context.Background(), cfg, registry, ctl)
}

func TestRoomsAPI(t *testing.T) {
	registry, h := newTestRouter(t)
	if _, err := registry.GetOrCreate(context.Background(), "standup"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(nhttp.MethodGet, "/api/rooms", nil))

	if w.Code != nhttp.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var rooms []core.RoomSummary
	if err := json.Unmarshal(w.Body.Bytes(), &rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != "standup" {
		t.Fatalf("rooms: %+v", rooms)
	}
}

func TestClientTokenIssuedOnce(t *testing.T) {
	_, h := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(nhttp.MethodGet, "/api/rooms", nil))

	var issued string
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			issued = c.Value
		}
	}
	if issued == "" {
		t.Fatal("ct cookie not issued")
	}

	// A request that already carries the cookie keeps its token.
	req := httptest.NewRequest(nhttp.MethodGet, "/api/rooms", nil)
	req.AddCookie(&nhttp.Cookie{Name: "ct", Value: issued})
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)
	for _, c := range w2.Result().Cookies() {
		if c.Name == "ct" && !strings.Contains(c.Value, issued) {
			t.Fatalf("token replaced: %q", c.Value)
		}
	}
}
