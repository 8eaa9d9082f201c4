// Package observer streams per-tick scheduler stats to admin WebSocket clients.
package observer

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelgate.ai/internal/observerproto"
	"voxelgate.ai/internal/sim/schedule"
)

const queueLen = 64

type Server struct {
	params observerproto.WorldParams
	log    *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	tick     atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscriber
}

type subscriber struct {
	every   atomic.Uint64
	out     chan []byte
	skipped atomic.Uint64
}

func NewServer(params observerproto.WorldParams, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
		subs: map[uint64]*subscriber{},
	}
}

// Subscribers reports how many WebSocket clients are attached.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Publish fans one tick's stats out to subscribers. It runs on the tick goroutine and never
// blocks: a subscriber whose queue is full skips the tick.
func (s *Server) Publish(st schedule.TickStats) {
	s.tick.Store(st.Tick)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            st.Tick,
		Drained:         st.Drained,
		Joins:           st.Joins,
		Leaves:          st.Leaves,
		Packets:         st.Packets,
		Outbound:        st.Outbound,
		StepMS:          float64(st.Duration.Microseconds()) / 1000,
		Overrun:         st.Overrun,
		Players:         st.Players,
		Chunks:          st.Chunks,
		Delivered:       st.Flush.Delivered,
		Dropped:         st.Flush.Dropped,
		Shed:            st.Flush.Shed,
		Kicked:          st.Flush.Kicked,
	}
	for _, sub := range s.subs {
		if every := sub.every.Load(); every > 1 && st.Tick%every != 0 {
			continue
		}
		msg.Skipped = sub.skipped.Load()
		b, err := json.Marshal(msg)
		if err != nil {
			s.log.Error("observer: marshal tick", zap.Error(err))
			return
		}
		select {
		case sub.out <- b:
		default:
			sub.skipped.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            s.tick.Load(),
			WorldParams:     s.params,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		st := &subscriber{out: make(chan []byte, queueLen)}
		st.every.Store(uint64(sub.Every))
		s.mu.Lock()
		s.subs[id] = st
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		s.log.Debug("observer subscribed", zap.Uint64("id", id), zap.String("remote", r.RemoteAddr))

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine. A failed write closes conn, which ends the reader loop below.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-st.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				st.every.Store(uint64(sub.Every))
			}
		}

		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if sub.Every < 1 {
		sub.Every = 1
	}
	if sub.Every > 1200 {
		sub.Every = 1200
	}
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
