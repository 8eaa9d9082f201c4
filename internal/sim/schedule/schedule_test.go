package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/world"
)

type fakeSystem struct {
	name   string
	access Access
	run    func(*Context) error
	routes func(*bridge.Message) bool
}

func (f *fakeSystem) Name() string   { return f.name }
func (f *fakeSystem) Access() Access { return f.access }
func (f *fakeSystem) Run(ctx *Context) error {
	if f.run == nil {
		return nil
	}
	return f.run(ctx)
}
func (f *fakeSystem) Routes(m *bridge.Message) bool { return f.routes != nil && f.routes(m) }

type applierFunc func(*Context, bridge.Message) error

func (f applierFunc) Apply(ctx *Context, m bridge.Message) error { return f(ctx, m) }

func rw(reads, writes []world.ComponentID) Access {
	return Access{Reads: MaskOf(reads...), Writes: MaskOf(writes...)}
}

func TestAccessConflicts(t *testing.T) {
	a := rw([]world.ComponentID{world.CompPlayer}, []world.ComponentID{world.CompPosition})
	b := rw([]world.ComponentID{world.CompPlayer}, nil)
	c := rw([]world.ComponentID{world.CompPosition}, nil)
	d := rw(nil, []world.ComponentID{world.CompPosition})
	if a.Conflicts(b) || b.Conflicts(a) {
		t.Fatalf("shared reads must not conflict")
	}
	if !a.Conflicts(c) || !c.Conflicts(a) {
		t.Fatalf("write/read must conflict both ways")
	}
	if !a.Conflicts(d) {
		t.Fatalf("write/write must conflict")
	}
}

func TestPlanBatches(t *testing.T) {
	move := &fakeSystem{name: "move", access: rw([]world.ComponentID{world.CompPlayer}, []world.ComponentID{world.CompPosition})}
	chat := &fakeSystem{name: "chat", access: rw([]world.ComponentID{world.CompPlayer}, nil)}
	track := &fakeSystem{name: "track", access: rw([]world.ComponentID{world.CompPosition}, []world.ComponentID{world.CompTracking})}
	keep := &fakeSystem{name: "keep", access: rw([]world.ComponentID{world.CompPlayer}, []world.ComponentID{world.CompKeepAlive})}
	leave := &fakeSystem{name: "leave", access: rw(nil, []world.ComponentID{world.CompArena, world.CompPlayer, world.CompPosition, world.CompTracking, world.CompKeepAlive})}

	p, err := NewPlan(move, chat, track, keep, leave)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	want := "[move chat keep] -> [track] -> [leave]"
	if got := p.String(); got != want {
		t.Fatalf("plan = %s, want %s", got, want)
	}

	if _, err := NewPlan(move, &fakeSystem{name: "move"}); err == nil {
		t.Fatalf("duplicate names must be rejected")
	}
}

func newTestScheduler(t *testing.T, in *bridge.Inbound, reg *session.Registry, app Applier, systems ...System) *Scheduler {
	t.Helper()
	p, err := NewPlan(systems...)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return New(world.New(64), p, Options{Period: 10 * time.Millisecond, Inbound: in, Sessions: reg, Applier: app})
}

func playHandle(reg *session.Registry, capacity int) *session.Handle {
	h := session.NewHandle(reg.NextID(), "test", capacity)
	h.Advance(protocol.StateLogin)
	h.Advance(protocol.StatePlay)
	h.OnKick(func(string) { h.MarkClosed() })
	reg.Insert(h)
	return h
}

func TestDrainCompletesBeforeSystemsAndKeepsOrder(t *testing.T) {
	in := bridge.NewInbound(64)
	var applied atomic.Int32
	app := applierFunc(func(ctx *Context, m bridge.Message) error {
		applied.Add(1)
		return nil
	})
	var seen []int64
	var appliedAtRun int32
	sys := &fakeSystem{
		name:   "keepalive",
		access: rw(nil, []world.ComponentID{world.CompKeepAlive}),
		routes: func(m *bridge.Message) bool { return m.Kind == bridge.KindPacket },
		run: func(ctx *Context) error {
			appliedAtRun = applied.Load()
			for _, m := range ctx.Inbox {
				if m.Conn == 1 {
					seen = append(seen, m.Packet.(*protocol.KeepAliveResponse).KeepAliveID)
				}
			}
			return nil
		},
	}
	s := newTestScheduler(t, in, session.NewRegistry(), app, sys)

	ctx := context.Background()
	_ = in.Send(ctx, bridge.Message{Conn: 1, Kind: bridge.KindJoin})
	for i := 0; i < 10; i++ {
		_ = in.Send(ctx, bridge.Message{Conn: 1, Kind: bridge.KindPacket, Packet: &protocol.KeepAliveResponse{KeepAliveID: int64(i)}})
		_ = in.Send(ctx, bridge.Message{Conn: 2, Kind: bridge.KindPacket, Packet: &protocol.KeepAliveResponse{KeepAliveID: int64(100 + i)}})
	}
	_ = in.Send(ctx, bridge.Message{Conn: 2, Kind: bridge.KindJoin})

	st, err := s.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if appliedAtRun != 2 {
		t.Fatalf("system ran after %d of 2 applies", appliedAtRun)
	}
	if st.Drained != 22 || st.Joins != 2 || st.Packets != 20 {
		t.Fatalf("stats %+v", st)
	}
	for i, v := range seen {
		if v != int64(i) {
			t.Fatalf("order broken: %v", seen)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("saw %d messages", len(seen))
	}
	if in.Len() != 0 {
		t.Fatalf("inbound not drained: %d", in.Len())
	}
}

func TestNoOutboundBeforeSystemsComplete(t *testing.T) {
	reg := session.NewRegistry()
	h := playHandle(reg, 16)
	var leaked atomic.Int32
	producer := &fakeSystem{
		name:   "producer",
		access: rw(nil, []world.ComponentID{world.CompPlayer}),
		run: func(ctx *Context) error {
			ctx.Out.Broadcast(&protocol.KeepAlive{KeepAliveID: 7})
			return nil
		},
	}
	observer := &fakeSystem{
		name:   "observer",
		access: rw([]world.ComponentID{world.CompPlayer}, nil),
		run: func(ctx *Context) error {
			leaked.Store(int32(h.QueueLen()))
			return nil
		},
	}
	s := newTestScheduler(t, nil, reg, nil, producer, observer)
	st, err := s.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if leaked.Load() != 0 {
		t.Fatalf("outbound reached the queue before the tick finished")
	}
	if h.QueueLen() != 1 || st.Flush.Delivered != 1 {
		t.Fatalf("queue=%d stats=%+v", h.QueueLen(), st.Flush)
	}
}

func TestOutboxesMergeInDeclaredOrder(t *testing.T) {
	reg := session.NewRegistry()
	h := playHandle(reg, 16)
	mk := func(name string, id int64, comp world.ComponentID) System {
		return &fakeSystem{
			name:   name,
			access: rw(nil, []world.ComponentID{comp}),
			run: func(ctx *Context) error {
				time.Sleep(time.Duration(3-id) * time.Millisecond)
				ctx.Out.Unicast(h.ID(), &protocol.KeepAlive{KeepAliveID: id})
				return nil
			},
		}
	}
	s := newTestScheduler(t, nil, reg, nil,
		mk("a", 1, world.CompPlayer), mk("b", 2, world.CompPosition), mk("c", 3, world.CompTracking))
	if _, err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	batch := <-h.Outbound()
	if len(batch) != 3 {
		t.Fatalf("batch holds %d packets, want 3", len(batch))
	}
	for i, p := range batch {
		if got := p.(*protocol.KeepAlive).KeepAliveID; got != int64(i+1) {
			t.Fatalf("packet %d has id %d", i, got)
		}
	}
}

func TestBatchRunsInParallel(t *testing.T) {
	meet := make(chan struct{})
	rendezvous := func(ctx *Context) error {
		select {
		case meet <- struct{}{}:
		case <-meet:
		case <-time.After(2 * time.Second):
			return errors.New("peer never arrived")
		}
		return nil
	}
	a := &fakeSystem{name: "a", access: rw([]world.ComponentID{world.CompPlayer}, nil), run: rendezvous}
	b := &fakeSystem{name: "b", access: rw([]world.ComponentID{world.CompPlayer}, nil), run: rendezvous}
	s := newTestScheduler(t, nil, nil, nil, a, b)
	s.opts.Workers = 2
	if _, err := s.Step(); err != nil {
		t.Fatalf("independent systems did not run concurrently: %v", err)
	}
}

func TestSystemFailureIsFatal(t *testing.T) {
	bad := &fakeSystem{name: "bad", run: func(*Context) error { return errors.New("invariant broken") }}
	s := newTestScheduler(t, nil, nil, nil, bad)
	_, err := s.Step()
	if !errors.Is(err, ErrSystemFailure) {
		t.Fatalf("expected ErrSystemFailure, got %v", err)
	}
	var se *SystemError
	if !errors.As(err, &se) || se.System != "bad" {
		t.Fatalf("expected SystemError for bad, got %v", err)
	}

	boom := &fakeSystem{name: "boom", run: func(*Context) error { panic("oops") }}
	s = newTestScheduler(t, nil, nil, nil, boom)
	if _, err := s.Step(); !errors.Is(err, ErrSystemFailure) {
		t.Fatalf("panic must become ErrSystemFailure, got %v", err)
	}

	s = newTestScheduler(t, nil, nil, nil, boom)
	if err := s.Run(context.Background()); !errors.Is(err, ErrSystemFailure) {
		t.Fatalf("Run must stop with ErrSystemFailure, got %v", err)
	}
}

func TestRunReportsOverrunAndDoesNotCatchUp(t *testing.T) {
	var calls atomic.Int32
	slow := &fakeSystem{name: "slow", run: func(*Context) error {
		if calls.Add(1) == 2 {
			time.Sleep(60 * time.Millisecond)
		}
		return nil
	}}
	p, _ := NewPlan(slow)
	var stats []TickStats
	ctx, cancel := context.WithCancel(context.Background())
	s := New(world.New(64), p, Options{
		Period: 20 * time.Millisecond,
		OnTick: func(st TickStats) {
			stats = append(stats, st)
			if len(stats) == 4 {
				cancel()
			}
		},
	})
	start := time.Now()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if !stats[1].Overrun {
		t.Fatalf("slow tick not reported as overrun: %+v", stats[1])
	}
	if s.Overruns() < 1 {
		t.Fatalf("overrun counter not incremented")
	}
	for i, st := range stats {
		if st.Tick != uint64(i) {
			t.Fatalf("tick %d reported as %d", i, st.Tick)
		}
	}
	// 4 ticks with one 60ms stall: no catch-up burst means the last two ticks are spaced by the
	// period again, so the total is well above 60ms + 20ms.
	if elapsed < 110*time.Millisecond {
		t.Fatalf("ticks ran too fast (%v); missed ticks were replayed", elapsed)
	}
}
