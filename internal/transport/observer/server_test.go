package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/observerproto"
	"voxelgate.ai/internal/sim/schedule"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(observerproto.WorldParams{TickRateHz: 20, Height: 64, Seed: 7, ViewDistance: 4}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return s, hs
}

func subscribe(t *testing.T, s *Server, hs *httptest.Server, every int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Every: every}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) observerproto.TickMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.TickMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	return msg
}

func TestPublishStreamsTickStats(t *testing.T) {
	s, hs := newTestServer(t)
	conn := subscribe(t, s, hs, 0)

	s.Publish(schedule.TickStats{
		Tick:     1,
		Drained:  5,
		Joins:    1,
		Packets:  4,
		Duration: 1500 * time.Microsecond,
		Players:  1,
		Chunks:   9,
		Flush:    bridge.FlushStats{Delivered: 12, Shed: 1},
	})
	msg := readTick(t, conn)
	if msg.Type != "TICK" || msg.Tick != 1 || msg.Drained != 5 || msg.Joins != 1 || msg.Packets != 4 {
		t.Fatalf("tick = %+v", msg)
	}
	if msg.StepMS != 1.5 || msg.Players != 1 || msg.Chunks != 9 || msg.Delivered != 12 || msg.Shed != 1 {
		t.Fatalf("tick = %+v", msg)
	}
}

func TestSubscribeEvery(t *testing.T) {
	s, hs := newTestServer(t)
	conn := subscribe(t, s, hs, 3)
	for tick := uint64(1); tick <= 7; tick++ {
		s.Publish(schedule.TickStats{Tick: tick})
	}
	if got := readTick(t, conn).Tick; got != 3 {
		t.Fatalf("first tick = %d, want 3", got)
	}
	if got := readTick(t, conn).Tick; got != 6 {
		t.Fatalf("second tick = %d, want 6", got)
	}
}

func TestSubscribeRequired(t *testing.T) {
	_, hs := newTestServer(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read = %v, want policy violation close", err)
	}
}

func TestBootstrap(t *testing.T) {
	s, hs := newTestServer(t)
	s.Publish(schedule.TickStats{Tick: 42})
	resp, err := http.Get(hs.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.Tick != 42 || boot.WorldParams.Seed != 7 || boot.ProtocolVersion != observerproto.Version {
		t.Fatalf("bootstrap = %+v", boot)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", addr, got)
		}
	}
}
