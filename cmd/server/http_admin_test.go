package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"voxelgate.ai/internal/config"
	"voxelgate.ai/internal/observerproto"
	"voxelgate.ai/internal/server"
	"voxelgate.ai/internal/transport/observer"
	"voxelgate.ai/internal/transport/tcp"
)

type fakeSource struct {
	st  server.State
	obs *observer.Server
}

func (f fakeSource) State() server.State        { return f.st }
func (f fakeSource) Observer() *observer.Server { return f.obs }

func newFake() fakeSource {
	return fakeSource{
		st: server.State{
			Tick:     77,
			Players:  3,
			Sessions: 4,
			StepMS:   1.25,
			Overruns: 2,
			TCP:      tcp.Stats{Accepted: 9, Violations: 1},
			Journal:  &server.JournalState{Written: 70},
		},
		obs: observer.NewServer(observerproto.WorldParams{TickRateHz: 20}, nil),
	}
}

func TestMetricsExposition(t *testing.T) {
	mux := newAdminMux(newFake(), zap.NewNop(), false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"voxelgate_tick 77\n",
		"voxelgate_players 3\n",
		"voxelgate_step_ms 1.250\n",
		"# TYPE voxelgate_tick_overruns_total counter\n",
		"voxelgate_tick_overruns_total 2\n",
		"voxelgate_tcp_violations_total 1\n",
		"voxelgate_journal_written_total 70\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestStateIsLoopbackOnly(t *testing.T) {
	mux := newAdminMux(newFake(), zap.NewNop(), false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote request status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var st server.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Tick != 77 || st.Sessions != 4 || st.TCP.Accepted != 9 {
		t.Fatalf("state = %+v", st)
	}
}

func TestHealthz(t *testing.T) {
	mux := newAdminMux(newFake(), zap.NewNop(), false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("healthz %d %q", rec.Code, rec.Body.String())
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Defaults()
	cfg.Admin.HTTPAddr = "127.0.0.1:8080"
	applyOverrides(&cfg, overrides{Listen: " :30000 ", Admin: "off", LogLevel: "debug", ChunkDB: "/tmp/c.db"})
	if cfg.Listen != ":30000" || cfg.Admin.HTTPAddr != "" || cfg.Log.Level != "debug" || cfg.World.ChunkDB != "/tmp/c.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	applyOverrides(&cfg, overrides{})
	if cfg.Listen != ":30000" {
		t.Fatalf("empty overrides changed listen: %q", cfg.Listen)
	}
}
