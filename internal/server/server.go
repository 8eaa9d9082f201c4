// Package server wires the game server together: listener, session registry, inbound bridge,
// tick scheduler, chunk loader and persistence. Run owns the whole lifetime, including the
// orderly shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/config"
	"voxelgate.ai/internal/observerproto"
	"voxelgate.ai/internal/persistence/chunkdb"
	"voxelgate.ai/internal/persistence/journal"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/chunks"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/systems"
	"voxelgate.ai/internal/sim/terrain"
	"voxelgate.ai/internal/sim/world"
	"voxelgate.ai/internal/transport/observer"
	"voxelgate.ai/internal/transport/tcp"
)

type Server struct {
	cfg config.Config
	log *zap.Logger

	sessions *session.Registry
	inbound  *bridge.Inbound
	tcp      *tcp.Server

	world  *world.World
	set    *systems.Set
	sched  *schedule.Scheduler
	loader *chunks.Loader
	store  chunks.Store
	closer io.Closer // chunk database, when configured

	journal  *journal.TickLog
	observer *observer.Server

	last    atomic.Pointer[schedule.TickStats]
	running atomic.Bool
}

// Options overrides collaborators that are normally built from the configuration.
type Options struct {
	Keys *auth.KeyPair
	Auth auth.Authenticator
}

func New(cfg config.Config, log *zap.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		sessions: session.NewRegistry(),
		inbound:  bridge.NewInbound(cfg.Bridge.InboundCapacity),
		world:    world.New(cfg.World.Height),
	}

	keys := opts.Keys
	if keys == nil {
		var err error
		if keys, err = auth.GenerateKeyPair(cfg.Auth.KeyBits); err != nil {
			return nil, fmt.Errorf("server: key pair: %w", err)
		}
	}
	authn := opts.Auth
	if authn == nil {
		switch cfg.Auth.Mode {
		case config.AuthOnline:
			authn = auth.NewSessionServer(cfg.Auth.SessionServer, cfg.Auth.Timeout())
		default:
			authn = auth.Offline{}
		}
	}

	if cfg.World.ChunkDB != "" {
		db, err := chunkdb.Open(cfg.World.ChunkDB, log.Named("chunkdb"))
		if err != nil {
			return nil, err
		}
		s.store, s.closer = db, db
	} else {
		s.store = chunks.NewMemStore()
	}

	gen := terrain.New(terrain.Config{Seed: cfg.World.Seed, Height: cfg.World.Height})
	blocks := terrain.Blocks{}
	s.loader = chunks.NewLoader(chunks.Options{
		Store:     s.store,
		Generator: gen,
		Blocks:    blocks,
		Height:    cfg.World.Height,
		Workers:   cfg.World.LoaderWorkers,
		Logger:    log.Named("loader"),
	})
	s.set = systems.New(systems.Config{
		TickRateHz:        cfg.TickRateHz,
		ViewDistance:      cfg.Play.ViewDistance,
		Height:            cfg.World.Height,
		Seed:              cfg.World.Seed,
		MaxMovePerTick:    cfg.Play.MaxMovePerTick,
		KeepAliveInterval: uint64(cfg.Play.KeepAliveIntervalTicks),
		KeepAliveTimeout:  uint64(cfg.Play.KeepAliveTimeoutTicks),
	}, gen, blocks, s.loader)
	plan, err := s.set.Plan()
	if err != nil {
		s.closeStore()
		return nil, err
	}
	log.Info("tick plan", zap.Stringer("plan", plan), zap.Duration("period", cfg.TickPeriod()))

	s.observer = observer.NewServer(observerproto.WorldParams{
		TickRateHz:   cfg.TickRateHz,
		ChunkSize:    [3]int{world.ChunkSize, cfg.World.Height, world.ChunkSize},
		Height:       cfg.World.Height,
		Seed:         cfg.World.Seed,
		ViewDistance: cfg.Play.ViewDistance,
		MaxPlayers:   cfg.MaxPlayers,
	}, log.Named("observer"))
	if cfg.World.JournalDir != "" {
		s.journal = journal.NewTickLog(cfg.World.JournalDir, log.Named("journal"))
	}

	s.sched = schedule.New(s.world, plan, schedule.Options{
		Period:   cfg.TickPeriod(),
		Workers:  cfg.Schedule.Workers,
		Inbound:  s.inbound,
		Sessions: s.sessions,
		Applier:  s.set.Lifecycle,
		Logger:   log.Named("tick"),
		OnTick:   s.onTick,
	})

	s.tcp, err = tcp.NewServer(tcp.Options{
		Net:              cfg.Net,
		Play:             cfg.Play,
		MOTD:             cfg.MOTD,
		MaxPlayers:       cfg.MaxPlayers,
		OutboundCapacity: cfg.Bridge.OutboundCapacity,
		Keys:             keys,
		Auth:             authn,
		AuthWait:         cfg.Auth.Timeout(),
		Sessions:         s.sessions,
		Inbound:          s.inbound,
		Logger:           log.Named("tcp"),
	})
	if err != nil {
		s.closeStore()
		return nil, err
	}
	return s, nil
}

// Run serves ln until ctx ends or a system fails. On the way out every player is sent the
// closing reason, dirty chunks are saved and the stores are closed. A system failure is
// returned as an error matching schedule.ErrSystemFailure.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server: already running")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loader.Run(gctx) })
	g.Go(func() error { return s.tcp.Serve(gctx, ln) })
	g.Go(func() error {
		err := s.sched.Run(gctx)
		if err != nil {
			s.log.Error("tick loop failed; shutting down", zap.Error(err))
		}
		// The scheduler has returned, so the world is no longer shared.
		s.shutdownWorld()
		if err != nil {
			return err
		}
		// Stop the listener and loader even when ctx is still live.
		return errStopped
	})
	err := g.Wait()
	if errors.Is(err, errStopped) {
		err = nil
	}

	if s.journal != nil {
		if cerr := s.journal.Close(); cerr != nil {
			s.log.Warn("journal close", zap.Error(cerr))
		}
	}
	s.closeStore()
	s.log.Info("server stopped", zap.Uint64("ticks", s.sched.Ticks()), zap.Uint64("overruns", s.sched.Overruns()))
	return err
}

var errStopped = errors.New("server: tick loop stopped")

func (s *Server) shutdownWorld() {
	kicked := 0
	s.sessions.Snapshot().Range(func(h *session.Handle) bool {
		h.Kick(protocol.ReasonServerClosing)
		kicked++
		return true
	})
	saved := s.set.Loading.SaveDirty(s.world)
	s.log.Info("world shut down", zap.Int("kicked", kicked), zap.Int("saved_chunks", saved))
}

func (s *Server) closeStore() {
	if s.closer == nil {
		return
	}
	if err := s.closer.Close(); err != nil {
		s.log.Warn("chunk store close", zap.Error(err))
	}
}

func (s *Server) onTick(st schedule.TickStats) {
	s.last.Store(&st)
	s.observer.Publish(st)
	s.journal.WriteTick(journal.TickEntry{
		Tick:       st.Tick,
		Drained:    st.Drained,
		Joins:      st.Joins,
		Leaves:     st.Leaves,
		Packets:    st.Packets,
		Outbound:   st.Outbound,
		Delivered:  st.Flush.Delivered,
		Shed:       st.Flush.Shed,
		StepMillis: float64(st.Duration.Microseconds()) / 1000,
		Overrun:    st.Overrun,
		Players:    st.Players,
		Chunks:     st.Chunks,
	})
}

// Observer is the admin tick stream.
func (s *Server) Observer() *observer.Server { return s.observer }

// Sessions is the live session registry.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// State is a point-in-time view for the admin endpoints. Everything in it is safe to read off
// the tick goroutine.
type State struct {
	Tick     uint64            `json:"tick"`
	Players  int               `json:"players"`
	Sessions int               `json:"sessions"`
	Chunks   int               `json:"chunks"`
	StepMS   float64           `json:"last_step_ms"`
	Overruns uint64            `json:"overruns"`
	Inbound  int               `json:"inbound_queued"`
	TCP      tcp.Stats         `json:"tcp"`
	Loader   chunks.Stats      `json:"loader"`
	Journal  *JournalState     `json:"journal,omitempty"`
	Online   []session.Summary `json:"online"`
}

type JournalState struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

func (s *Server) State() State {
	snap := s.sessions.Snapshot()
	st := State{
		Sessions: snap.Len(),
		Overruns: s.sched.Overruns(),
		Inbound:  s.inbound.Len(),
		TCP:      s.tcp.Stats(),
		Loader:   s.loader.Stats(),
		Online:   snap.Summaries(),
	}
	if last := s.last.Load(); last != nil {
		st.Tick = last.Tick
		st.Players = last.Players
		st.Chunks = last.Chunks
		st.StepMS = float64(last.Duration.Microseconds()) / 1000
	}
	if s.journal != nil {
		st.Journal = &JournalState{Written: s.journal.Written(), Dropped: s.journal.Dropped()}
	}
	return st
}
