package session

import (
	"sync"
	"testing"

	"voxelgate.ai/internal/protocol"
)

func TestRegistryInsertRemoveOnce(t *testing.T) {
	r := NewRegistry()
	h := NewHandle(r.NextID(), "127.0.0.1:1", 4)
	if !r.Insert(h) {
		t.Fatalf("first insert failed")
	}
	if r.Insert(h) {
		t.Fatalf("duplicate insert succeeded")
	}
	if !r.Remove(h.ID()) {
		t.Fatalf("first remove failed")
	}
	if r.Remove(h.ID()) {
		t.Fatalf("second remove must be a no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d", r.Len())
	}
}

func TestSnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	a := NewHandle(r.NextID(), "a", 1)
	b := NewHandle(r.NextID(), "b", 1)
	r.Insert(a)
	snap := r.Snapshot()
	r.Insert(b)
	r.Remove(a.ID())

	if snap.Len() != 1 {
		t.Fatalf("snapshot len=%d want 1", snap.Len())
	}
	if _, ok := snap.Get(a.ID()); !ok {
		t.Fatalf("snapshot lost a")
	}
	if _, ok := snap.Get(b.ID()); ok {
		t.Fatalf("snapshot sees later insert")
	}
	if _, ok := r.Get(b.ID()); !ok {
		t.Fatalf("registry lost b")
	}
}

func TestRegistryConcurrentWriters(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var removed sync.Map
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := NewHandle(r.NextID(), "x", 1)
			r.Insert(h)
			_ = r.Snapshot().Len()
			// Two racing removers: exactly one wins.
			var inner sync.WaitGroup
			for j := 0; j < 2; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					if r.Remove(h.ID()) {
						if _, dup := removed.LoadOrStore(h.ID(), true); dup {
							t.Errorf("id %d removed twice", h.ID())
						}
					}
				}()
			}
			inner.Wait()
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("len=%d", r.Len())
	}
	n := 0
	removed.Range(func(_, _ any) bool { n++; return true })
	if n != 64 {
		t.Fatalf("removed %d want 64", n)
	}
}

func TestHandleAdvanceIsForwardOnly(t *testing.T) {
	h := NewHandle(1, "x", 1)
	if !h.Advance(protocol.StateLogin) || !h.Advance(protocol.StatePlay) {
		t.Fatalf("forward transitions refused")
	}
	if h.Advance(protocol.StateLogin) {
		t.Fatalf("regression allowed")
	}
	if !h.Advance(protocol.StateClosed) || h.Advance(protocol.StateClosed) {
		t.Fatalf("closed must be reachable once and terminal")
	}
	if h.State() != protocol.StateClosed {
		t.Fatalf("state=%s", h.State())
	}
}

func TestHandleEnqueueBounded(t *testing.T) {
	h := NewHandle(1, "x", 2)
	if !h.Enqueue(&protocol.KeepAlive{KeepAliveID: 1}) || !h.Enqueue(&protocol.KeepAlive{KeepAliveID: 2}) {
		t.Fatalf("enqueue under capacity failed")
	}
	if h.Enqueue(&protocol.KeepAlive{KeepAliveID: 3}) {
		t.Fatalf("enqueue over capacity succeeded")
	}
	if h.QueueLen() != 2 {
		t.Fatalf("queue len=%d", h.QueueLen())
	}
	<-h.Outbound()
	h.MarkClosed()
	if h.Enqueue(&protocol.KeepAlive{KeepAliveID: 4}) {
		t.Fatalf("enqueue after close succeeded")
	}
}

func TestHandleBatchTakesOneSlot(t *testing.T) {
	h := NewHandle(1, "x", 1)
	pkts := make([]protocol.Packet, 1000)
	for i := range pkts {
		pkts[i] = &protocol.KeepAlive{KeepAliveID: int64(i)}
	}
	if !h.EnqueueBatch(pkts) {
		t.Fatalf("batch refused by an empty queue")
	}
	if !h.EnqueueBatch(nil) {
		t.Fatalf("empty batch refused")
	}
	if h.QueueLen() != 1 {
		t.Fatalf("queue len=%d", h.QueueLen())
	}
	if h.EnqueueBatch(pkts[:1]) {
		t.Fatalf("second batch accepted by a full queue")
	}
	if got := <-h.Outbound(); len(got) != 1000 {
		t.Fatalf("batch holds %d packets", len(got))
	}
}

func TestHandleKickDelegatesAndIsIdempotent(t *testing.T) {
	h := NewHandle(1, "x", 1)
	var reasons []string
	var mu sync.Mutex
	h.OnKick(func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
		h.MarkClosed()
	})
	h.Kick(protocol.ReasonKicked)
	h.Kick(protocol.ReasonKicked)
	if len(reasons) != 2 {
		t.Fatalf("kick fn calls=%d", len(reasons))
	}
	if !h.Closed() {
		t.Fatalf("handle not closed")
	}
	if h.MarkClosed() {
		t.Fatalf("MarkClosed returned true twice")
	}

	bare := NewHandle(2, "y", 1)
	bare.Kick(protocol.ReasonKicked)
	if !bare.Closed() {
		t.Fatalf("kick without owner should close the handle")
	}
}

func TestHandleFinishReportsLeftState(t *testing.T) {
	h := NewHandle(1, "x", 1)
	h.Advance(protocol.StateLogin)
	if got := h.Finish(); got != protocol.StateLogin {
		t.Fatalf("Finish left %s, want login", got)
	}
	if got := h.Finish(); got != protocol.StateClosed {
		t.Fatalf("second Finish left %s", got)
	}
	if h.Advance(protocol.StatePlay) {
		t.Fatalf("advanced out of closed")
	}
}
