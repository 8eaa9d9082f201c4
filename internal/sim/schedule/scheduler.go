// Package schedule drives the world at a fixed tick rate. Each tick drains the inbound bridge,
// runs the planned system batches and flushes their outbound messages, strictly in that order.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/world"
)

// ErrSystemFailure marks a failure inside a system. The world may be inconsistent afterwards,
// so the caller must shut the process down.
var ErrSystemFailure = errors.New("system failure")

// SystemError reports which system failed on which tick.
type SystemError struct {
	System string
	Tick   uint64
	Err    error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("system failure: %s at tick %d: %v", e.System, e.Tick, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

func (e *SystemError) Is(target error) bool { return target == ErrSystemFailure }

// TickStats describes one completed tick.
type TickStats struct {
	Tick     uint64
	Drained  int
	Joins    int
	Leaves   int
	Packets  int
	Outbound int
	Flush    bridge.FlushStats
	Duration time.Duration
	Overrun  bool
	Players  int
	Chunks   int
}

type Options struct {
	Period   time.Duration
	Workers  int // parallel systems per batch; 0 means GOMAXPROCS
	Inbound  *bridge.Inbound
	Sessions *session.Registry
	Applier  Applier
	Logger   *zap.Logger
	// OnTick is called from the tick goroutine after every tick.
	OnTick func(TickStats)
}

type Scheduler struct {
	world *world.World
	plan  *Plan
	opts  Options
	log   *zap.Logger

	drained  []bridge.Message
	applyBox bridge.Outbox
	boxes    []bridge.Outbox
	inboxes  [][]bridge.Message
	merged   []bridge.Outbound
	sysLogs  []*zap.Logger

	overruns atomic.Uint64
	ticks    atomic.Uint64
}

func New(w *world.World, plan *Plan, opts Options) *Scheduler {
	if opts.Period <= 0 {
		opts.Period = 50 * time.Millisecond
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	n := len(plan.systems)
	s := &Scheduler{
		world:   w,
		plan:    plan,
		opts:    opts,
		log:     opts.Logger,
		boxes:   make([]bridge.Outbox, n),
		inboxes: make([][]bridge.Message, n),
		sysLogs: make([]*zap.Logger, n),
	}
	for i, sys := range plan.systems {
		s.sysLogs[i] = opts.Logger.With(zap.String("system", sys.Name()))
	}
	return s
}

// Overruns is the number of ticks that took longer than the period.
func (s *Scheduler) Overruns() uint64 { return s.overruns.Load() }

// Ticks is the number of completed ticks.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Run ticks until ctx ends or a system fails. A tick that overruns the period is followed
// immediately by the next one; missed ticks are not replayed.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.opts.Period)
	defer timer.Stop()
	next := time.Now().Add(s.opts.Period)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		st, err := s.Step()
		if err != nil {
			return err
		}

		now := time.Now()
		next = next.Add(s.opts.Period)
		if st.Duration > s.opts.Period || !now.Before(next) {
			st.Overrun = true
			s.overruns.Add(1)
			s.log.Warn("tick overrun",
				zap.Uint64("tick", st.Tick),
				zap.Duration("took", st.Duration),
				zap.Duration("period", s.opts.Period),
			)
			next = now
		}
		if s.opts.OnTick != nil {
			s.opts.OnTick(st)
		}
		timer.Reset(time.Until(next))
	}
}

// Step runs exactly one tick.
func (s *Scheduler) Step() (TickStats, error) {
	start := time.Now()
	w := s.world
	tick := w.Tick
	st := TickStats{Tick: tick}

	// Drain. Messages are routed in arrival order, so a connection's messages keep their order
	// inside every system inbox.
	s.drained = s.drained[:0]
	if s.opts.Inbound != nil {
		s.drained = s.opts.Inbound.Drain(s.drained)
	}
	st.Drained = len(s.drained)

	var snap session.Snapshot
	if s.opts.Sessions != nil {
		// Taken after the drain so every drained Join's connection is visible to the flush.
		snap = s.opts.Sessions.Snapshot()
	}

	for i := range s.inboxes {
		s.inboxes[i] = s.inboxes[i][:0]
		s.boxes[i].Reset()
	}
	s.applyBox.Reset()
	applyCtx := &Context{Tick: tick, World: w, Sessions: snap, Out: &s.applyBox, Log: s.log}

	for i := range s.drained {
		m := &s.drained[i]
		switch m.Kind {
		case bridge.KindJoin:
			st.Joins++
		case bridge.KindLeave:
			st.Leaves++
		case bridge.KindPacket:
			st.Packets++
		}
		if s.route(m) {
			continue
		}
		if s.opts.Applier != nil {
			if err := s.apply(applyCtx, *m); err != nil {
				return st, err
			}
		}
	}

	// Systems.
	for _, batch := range s.plan.batches {
		if err := s.runBatch(tick, snap, batch); err != nil {
			return st, err
		}
	}

	// Flush: the apply outbox first, then every system's outbox in declared order.
	s.merged = append(s.merged[:0], s.applyBox.Messages()...)
	for i := range s.boxes {
		s.merged = append(s.merged, s.boxes[i].Messages()...)
	}
	st.Outbound = len(s.merged)
	st.Flush = bridge.Flush(snap, s.merged)

	w.Tick++
	s.ticks.Add(1)
	st.Players = w.PlayerCount()
	st.Chunks = w.Chunks.Len()
	st.Duration = time.Since(start)
	for i := range s.drained {
		s.drained[i] = bridge.Message{}
	}
	return st, nil
}

func (s *Scheduler) route(m *bridge.Message) bool {
	for i, sys := range s.plan.systems {
		r, ok := sys.(Router)
		if ok && r.Routes(m) {
			s.inboxes[i] = append(s.inboxes[i], *m)
			return true
		}
	}
	return false
}

func (s *Scheduler) apply(ctx *Context, m bridge.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SystemError{System: "apply", Tick: ctx.Tick, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()
	if e := s.opts.Applier.Apply(ctx, m); e != nil {
		return &SystemError{System: "apply", Tick: ctx.Tick, Err: e}
	}
	return nil
}

func (s *Scheduler) runBatch(tick uint64, snap session.Snapshot, batch []int) error {
	if len(batch) == 1 {
		return s.runSystem(tick, snap, batch[0])
	}
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, i := range batch {
		i := i
		g.Go(func() error { return s.runSystem(tick, snap, i) })
	}
	return g.Wait()
}

func (s *Scheduler) runSystem(tick uint64, snap session.Snapshot, i int) (err error) {
	sys := s.plan.systems[i]
	defer func() {
		if r := recover(); r != nil {
			err = &SystemError{System: sys.Name(), Tick: tick, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()
	ctx := &Context{
		Tick:     tick,
		World:    s.world,
		Sessions: snap,
		Inbox:    s.inboxes[i],
		Out:      &s.boxes[i],
		Log:      s.sysLogs[i],
	}
	if e := sys.Run(ctx); e != nil {
		return &SystemError{System: sys.Name(), Tick: tick, Err: e}
	}
	return nil
}
