package bridge

import (
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
)

// Target selects the receivers of an outbound message.
type Target struct {
	Conn   session.ID // unicast receiver when All is false
	All    bool
	Except session.ID // broadcast only: skip this connection
}

func To(id session.ID) Target { return Target{Conn: id} }

var Everyone = Target{All: true}

func AllExcept(id session.ID) Target { return Target{All: true, Except: id} }

// Outbound is one message produced by a system. A non-empty Kick closes the target connection
// with that reason instead of delivering a packet.
type Outbound struct {
	Target Target
	Packet protocol.Packet
	Kick   string
}

// Outbox collects one system's outbound messages for one tick.
type Outbox struct {
	msgs []Outbound
}

func (o *Outbox) Unicast(id session.ID, pkt protocol.Packet) {
	o.msgs = append(o.msgs, Outbound{Target: To(id), Packet: pkt})
}

func (o *Outbox) Broadcast(pkt protocol.Packet) {
	o.msgs = append(o.msgs, Outbound{Target: Everyone, Packet: pkt})
}

func (o *Outbox) BroadcastExcept(id session.ID, pkt protocol.Packet) {
	o.msgs = append(o.msgs, Outbound{Target: AllExcept(id), Packet: pkt})
}

func (o *Outbox) Kick(id session.ID, reason string) {
	o.msgs = append(o.msgs, Outbound{Target: To(id), Kick: reason})
}

func (o *Outbox) Messages() []Outbound { return o.msgs }
func (o *Outbox) Len() int              { return len(o.msgs) }
func (o *Outbox) Reset()                { o.msgs = o.msgs[:0] }

// FlushStats summarizes one flush.
type FlushStats struct {
	Delivered int // packets accepted by a queue
	Dropped   int // receiver gone or not in Play
	Shed      int // connections closed because their queue was full
	Kicked    int
}

// Flush resolves every message against snap and gives each receiver in Play one batch holding
// all of its packets for the tick, in message order. A batch takes one slot of the receiver's
// queue however many packets it holds, so the queue bounds how many ticks a connection may fall
// behind. A receiver whose queue is full is closed with the overloaded reason; other receivers
// are unaffected. Kicks take effect immediately.
func Flush(snap session.Snapshot, msgs []Outbound) FlushStats {
	var st FlushStats
	var order []*session.Handle
	batches := make(map[session.ID][]protocol.Packet)
	add := func(h *session.Handle, pkt protocol.Packet) {
		if h.State() != protocol.StatePlay {
			st.Dropped++
			return
		}
		b, seen := batches[h.ID()]
		if !seen {
			order = append(order, h)
		}
		batches[h.ID()] = append(b, pkt)
	}
	for _, m := range msgs {
		if m.Kick != "" {
			if h, ok := snap.Get(m.Target.Conn); ok && !m.Target.All {
				h.Kick(m.Kick)
				st.Kicked++
			}
			continue
		}
		if m.Packet == nil {
			continue
		}
		if !m.Target.All {
			h, ok := snap.Get(m.Target.Conn)
			if !ok {
				st.Dropped++
				continue
			}
			add(h, m.Packet)
			continue
		}
		snap.Range(func(h *session.Handle) bool {
			if h.ID() != m.Target.Except {
				add(h, m.Packet)
			}
			return true
		})
	}

	for _, h := range order {
		pkts := batches[h.ID()]
		if h.EnqueueBatch(pkts) {
			st.Delivered += len(pkts)
			continue
		}
		if h.Closed() {
			st.Dropped += len(pkts)
			continue
		}
		h.Kick(protocol.ReasonOverloaded)
		st.Shed++
	}
	return st
}
