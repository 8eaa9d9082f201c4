// Package bridge carries data between the per-connection goroutines and the tick loop: one
// bounded inbound channel shared by every connection, and per-tick outboxes flushed onto each
// connection's bounded outbound queue.
package bridge

import (
	"context"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
)

type Kind uint8

const (
	// KindJoin asks the world to create the player entity for a connection that reached Play.
	KindJoin Kind = iota + 1
	// KindPacket is one decoded Play packet.
	KindPacket
	// KindLeave asks the world to remove the connection's entity. It is the last message a
	// connection ever sends.
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindPacket:
		return "packet"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Message is one inbound item. Handle and Profile are set for KindJoin only.
type Message struct {
	Conn    session.ID
	Kind    Kind
	Packet  protocol.Packet
	Handle  *session.Handle
	Profile auth.Profile
}

// Inbound is the multi-producer, single-consumer channel into the tick loop. Each connection
// has exactly one producing goroutine, so FIFO order of the channel is that connection's send
// order.
type Inbound struct {
	ch chan Message
}

func NewInbound(capacity int) *Inbound {
	if capacity <= 0 {
		capacity = 1
	}
	return &Inbound{ch: make(chan Message, capacity)}
}

// Send blocks until msg is queued or ctx ends. Blocking here suspends only the calling
// connection's reader.
func (in *Inbound) Send(ctx context.Context, msg Message) error {
	select {
	case in.ch <- msg:
		return nil
	default:
	}
	select {
	case in.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain appends every message currently buffered to dst without blocking. At most one channel
// capacity is taken per call so a flood of producers cannot keep a tick draining forever.
func (in *Inbound) Drain(dst []Message) []Message {
	limit := cap(in.ch)
	for i := 0; i < limit; i++ {
		select {
		case m := <-in.ch:
			dst = append(dst, m)
		default:
			return dst
		}
	}
	return dst
}

// Len reports the number of buffered messages.
func (in *Inbound) Len() int { return len(in.ch) }

func (in *Inbound) Cap() int { return cap(in.ch) }
