package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"go.uber.org/zap"

	"voxelgate.ai/internal/server"
	"voxelgate.ai/internal/transport/observer"
)

type stateSource interface {
	State() server.State
	Observer() *observer.Server
}

func newAdminMux(src stateSource, logger *zap.Logger, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, src.State())
	})

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(src.State())
	})
	obs := src.Observer()
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())

	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Debug("pprof endpoints disabled (VG_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

// writeMetrics renders st in the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, st server.State) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s %d\n", name, v)
	}

	gauge("voxelgate_tick", "Last completed tick.", st.Tick)
	gauge("voxelgate_players", "Player entities in the world.", st.Players)
	gauge("voxelgate_sessions", "Registered connections.", st.Sessions)
	gauge("voxelgate_loaded_chunks", "Loaded chunk columns.", st.Chunks)
	gauge("voxelgate_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", st.StepMS))
	gauge("voxelgate_inbound_queued", "Messages waiting in the inbound bridge.", st.Inbound)
	counter("voxelgate_tick_overruns_total", "Ticks that took longer than the period.", st.Overruns)

	counter("voxelgate_tcp_accepted_total", "Accepted TCP connections.", st.TCP.Accepted)
	counter("voxelgate_tcp_rate_limited_total", "Connections refused by the per-IP limiter.", st.TCP.RateLimited)
	counter("voxelgate_tcp_pending_refused_total", "Connections refused because too many were logging in.", st.TCP.PendingRefused)
	counter("voxelgate_tcp_logins_total", "Connections that reached Play.", st.TCP.LoggedIn)
	counter("voxelgate_tcp_violations_total", "Connections closed for a protocol violation.", st.TCP.Violations)
	gauge("voxelgate_tcp_active", "Connection actors running.", st.TCP.Active)

	counter("voxelgate_chunks_loaded_total", "Chunks read from the store.", st.Loader.Loaded)
	counter("voxelgate_chunks_generated_total", "Chunks generated.", st.Loader.Generated)
	counter("voxelgate_chunk_load_failures_total", "Store reads that failed and fell back to generation.", st.Loader.Failed)
	gauge("voxelgate_chunks_in_flight", "Chunk requests being served.", st.Loader.InFlight)

	if st.Journal != nil {
		counter("voxelgate_journal_written_total", "Tick journal entries written.", st.Journal.Written)
		counter("voxelgate_journal_dropped_total", "Tick journal entries dropped while the writer was behind.", st.Journal.Dropped)
	}
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
