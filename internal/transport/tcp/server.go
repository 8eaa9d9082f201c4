// Package tcp accepts game clients and runs one connection actor per socket. An actor owns its
// socket and protocol state from accept to close; the rest of the server only sees the
// session.Handle it publishes once Login succeeds.
package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tnze/go-mc/chat"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/config"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
)

type Options struct {
	Net        config.Net
	Play       config.Play
	MOTD       string
	MaxPlayers int
	// OutboundCapacity is the per-connection queue size, in tick batches.
	OutboundCapacity int

	Keys     *auth.KeyPair
	Auth     auth.Authenticator
	AuthWait time.Duration
	Sessions *session.Registry
	Inbound  *bridge.Inbound
	Logger   *zap.Logger
}

type Stats struct {
	Accepted       uint64 `json:"accepted"`
	RateLimited    uint64 `json:"rate_limited"`
	PendingRefused uint64 `json:"pending_refused"`
	LoggedIn       uint64 `json:"logged_in"`
	Violations     uint64 `json:"violations"`
	Active         int64  `json:"active"`
}

// Server is the accept loop. Connections that have not reached Play hold a slot of a bounded
// semaphore, and each remote IP may open connections only at a limited rate.
type Server struct {
	opts    Options
	log     *zap.Logger
	pending *semaphore.Weighted

	limMu     sync.Mutex
	limiters  map[string]*ipLimiter
	lastSweep time.Time

	wg sync.WaitGroup

	accepted       atomic.Uint64
	rateLimited    atomic.Uint64
	pendingRefused atomic.Uint64
	loggedIn       atomic.Uint64
	violations     atomic.Uint64
	active         atomic.Int64
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = time.Minute

func NewServer(opts Options) (*Server, error) {
	if opts.Keys == nil {
		return nil, errors.New("tcp: key pair is required")
	}
	if opts.Sessions == nil || opts.Inbound == nil {
		return nil, errors.New("tcp: registry and inbound bridge are required")
	}
	if opts.Auth == nil {
		opts.Auth = auth.Offline{}
	}
	if opts.AuthWait <= 0 {
		opts.AuthWait = 5 * time.Second
	}
	if opts.OutboundCapacity <= 0 {
		opts.OutboundCapacity = 100
	}
	if opts.Net.MaxPendingConnections <= 0 {
		opts.Net.MaxPendingConnections = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		opts:     opts,
		log:      opts.Logger,
		pending:  semaphore.NewWeighted(int64(opts.Net.MaxPendingConnections)),
		limiters: map[string]*ipLimiter{},
	}, nil
}

// Serve accepts on ln until ctx ends, then waits for every actor to finish. Cancelling ctx
// closes connections that are still logging in; connections in Play are closed by whoever
// owns the shutdown broadcast.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Info("listening", zap.Stringer("addr", ln.Addr()))
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("tcp: accept: %w", err)
		}
		backoff = 0
		s.accepted.Add(1)

		if !s.allow(c.RemoteAddr(), time.Now()) {
			s.rateLimited.Add(1)
			s.log.Debug("accept rate limited", zap.Stringer("remote", c.RemoteAddr()))
			_ = c.Close()
			continue
		}
		if !s.pending.TryAcquire(1) {
			s.pendingRefused.Add(1)
			s.log.Debug("too many pending connections", zap.Stringer("remote", c.RemoteAddr()))
			_ = c.Close()
			continue
		}

		a := newActor(s, c)
		s.wg.Add(1)
		s.active.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)
			a.run(ctx)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// allow applies the per-IP token bucket. Idle buckets are swept at most once per minute.
func (s *Server) allow(addr net.Addr, now time.Time) bool {
	r := s.opts.Net.AcceptRatePerIP
	if r <= 0 {
		return true
	}
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	s.limMu.Lock()
	defer s.limMu.Unlock()
	if now.Sub(s.lastSweep) > limiterIdle {
		for k, l := range s.limiters {
			if now.Sub(l.seen) > limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}
	l, ok := s.limiters[host]
	if !ok {
		burst := s.opts.Net.AcceptBurstPerIP
		if burst <= 0 {
			burst = 1
		}
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(r), burst)}
		s.limiters[host] = l
	}
	l.seen = now
	return l.lim.AllowN(now, 1)
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:       s.accepted.Load(),
		RateLimited:    s.rateLimited.Load(),
		PendingRefused: s.pendingRefused.Load(),
		LoggedIn:       s.loggedIn.Load(),
		Violations:     s.violations.Load(),
		Active:         s.active.Load(),
	}
}

type statusDoc struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description chat.Message `json:"description"`
}

func (s *Server) statusJSON() string {
	var d statusDoc
	d.Version.Name = "voxelgate"
	d.Version.Protocol = protocol.Version
	d.Players.Max = s.opts.MaxPlayers
	d.Players.Online = s.opts.Sessions.Snapshot().Playing()
	d.Description = chat.Text(s.opts.MOTD)
	b, err := json.Marshal(d)
	if err != nil {
		return `{}`
	}
	return string(b)
}
