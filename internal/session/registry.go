// Package session is the process-wide table of live connections. Writers (connection actors)
// copy the table on insert/remove; readers (the tick scheduler) take O(1) immutable snapshots.
package session

import (
	"sort"
	"sync"
	"sync/atomic"

	"voxelgate.ai/internal/protocol"
)

type Registry struct {
	mu   sync.Mutex
	cur  atomic.Pointer[map[ID]*Handle]
	next atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[ID]*Handle{}
	r.cur.Store(&empty)
	return r
}

// NextID hands out connection ids; ids are never reused.
func (r *Registry) NextID() ID { return ID(r.next.Add(1)) }

// Insert publishes h. It returns false if the id is already present.
func (r *Registry) Insert(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.cur.Load()
	if _, ok := old[h.id]; ok {
		return false
	}
	m := make(map[ID]*Handle, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[h.id] = h
	r.cur.Store(&m)
	return true
}

// Remove deletes id and reports whether this call removed it.
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.cur.Load()
	if _, ok := old[id]; !ok {
		return false
	}
	m := make(map[ID]*Handle, len(old))
	for k, v := range old {
		if k != id {
			m[k] = v
		}
	}
	r.cur.Store(&m)
	return true
}

func (r *Registry) Get(id ID) (*Handle, bool) {
	h, ok := (*r.cur.Load())[id]
	return h, ok
}

func (r *Registry) Len() int { return len(*r.cur.Load()) }

// Snapshot returns the current live set. Later inserts and removes do not affect it.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{m: *r.cur.Load()}
}

// Snapshot is an immutable view of the registry at one instant.
type Snapshot struct {
	m map[ID]*Handle
}

func (s Snapshot) Get(id ID) (*Handle, bool) {
	h, ok := s.m[id]
	return h, ok
}

func (s Snapshot) Len() int { return len(s.m) }

// Range calls fn for every handle until fn returns false. Order is unspecified.
func (s Snapshot) Range(fn func(*Handle) bool) {
	for _, h := range s.m {
		if !fn(h) {
			return
		}
	}
}

// Playing counts handles currently in Play.
func (s Snapshot) Playing() int {
	n := 0
	for _, h := range s.m {
		if h.State() == protocol.StatePlay {
			n++
		}
	}
	return n
}

// Summary describes one connection for admin listings.
type Summary struct {
	Conn   ID     `json:"conn"`
	Name   string `json:"name,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Remote string `json:"remote"`
	State  string `json:"state"`
	Queued int    `json:"queued"`
}

// Summaries lists the snapshot's connections ordered by id.
func (s Snapshot) Summaries() []Summary {
	out := make([]Summary, 0, len(s.m))
	for _, h := range s.m {
		sum := Summary{Conn: h.ID(), Remote: h.RemoteAddr(), State: h.State().String(), Queued: h.QueueLen()}
		if p, ok := h.Profile(); ok {
			sum.Name = p.Name
			sum.UUID = p.ID.String()
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}
