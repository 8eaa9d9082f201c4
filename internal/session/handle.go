package session

import (
	"sync"
	"sync/atomic"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/protocol"
)

// ID identifies one accepted TCP connection for the lifetime of the process.
type ID uint64

// Handle is the registry's non-owning view of a connection: enough to route outbound packets
// and read lifecycle state, never the socket itself.
type Handle struct {
	id     ID
	remote string

	state   atomic.Int32
	entity  atomic.Uint64 // packed world entity; 0 means none
	profile atomic.Pointer[auth.Profile]

	out  chan []protocol.Packet
	done chan struct{}
	once sync.Once

	kickMu sync.Mutex
	kickFn func(reason string)
}

// NewHandle builds a handle whose outbound queue holds at most capacity batches. A batch is
// everything one tick sends to the connection.
func NewHandle(id ID, remote string, capacity int) *Handle {
	if capacity <= 0 {
		capacity = 1
	}
	h := &Handle{
		id:     id,
		remote: remote,
		out:    make(chan []protocol.Packet, capacity),
		done:   make(chan struct{}),
	}
	h.state.Store(int32(protocol.StateHandshake))
	return h
}

func (h *Handle) ID() ID             { return h.id }
func (h *Handle) RemoteAddr() string { return h.remote }

func (h *Handle) State() protocol.State { return protocol.State(h.state.Load()) }

// Advance moves the state forward. It fails if next is not reachable from the current state,
// so concurrent callers can never move a connection backwards.
func (h *Handle) Advance(next protocol.State) bool {
	for {
		cur := protocol.State(h.state.Load())
		if !cur.CanAdvance(next) {
			return false
		}
		if h.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// Finish moves the connection to Closed and returns the state it left. A handle that was
// already closed returns StateClosed.
func (h *Handle) Finish() protocol.State {
	for {
		cur := protocol.State(h.state.Load())
		if cur == protocol.StateClosed {
			return cur
		}
		if h.state.CompareAndSwap(int32(cur), int32(protocol.StateClosed)) {
			return cur
		}
	}
}

func (h *Handle) Profile() (auth.Profile, bool) {
	p := h.profile.Load()
	if p == nil {
		return auth.Profile{}, false
	}
	return *p, true
}

func (h *Handle) SetProfile(p auth.Profile) { h.profile.Store(&p) }

// Entity returns the packed handle of the player entity, once the world has created it.
func (h *Handle) Entity() (uint64, bool) {
	e := h.entity.Load()
	return e, e != 0
}

func (h *Handle) SetEntity(e uint64) { h.entity.Store(e) }
func (h *Handle) ClearEntity()       { h.entity.Store(0) }

// Enqueue offers a single packet to the connection's writer without blocking. It returns false
// when the queue is full or the connection is closing; the caller decides whether that means a
// kick.
func (h *Handle) Enqueue(pkt protocol.Packet) bool {
	return h.EnqueueBatch([]protocol.Packet{pkt})
}

// EnqueueBatch offers pkts as one queue entry. The writer frames a batch into a single socket
// write, in order. An empty batch is accepted and not queued.
func (h *Handle) EnqueueBatch(pkts []protocol.Packet) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	if len(pkts) == 0 {
		return true
	}
	select {
	case h.out <- pkts:
		return true
	default:
		return false
	}
}

// Outbound is the queue the connection's writer drains.
func (h *Handle) Outbound() <-chan []protocol.Packet { return h.out }

// QueueLen reports how many batches are waiting to be written.
func (h *Handle) QueueLen() int { return len(h.out) }

// Done is closed once the connection starts closing.
func (h *Handle) Done() <-chan struct{} { return h.done }

// MarkClosed closes Done. Only the first call returns true.
func (h *Handle) MarkClosed() bool {
	first := false
	h.once.Do(func() {
		first = true
		close(h.done)
	})
	return first
}

func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// OnKick installs the function Kick delegates to; the owning actor sets it before the handle is
// published in the registry.
func (h *Handle) OnKick(fn func(reason string)) {
	h.kickMu.Lock()
	h.kickFn = fn
	h.kickMu.Unlock()
}

// Kick asks the owning connection to close with reason. Safe to call from any goroutine, any
// number of times.
func (h *Handle) Kick(reason string) {
	h.kickMu.Lock()
	fn := h.kickFn
	h.kickMu.Unlock()
	if fn != nil {
		fn(reason)
		return
	}
	h.MarkClosed()
}
