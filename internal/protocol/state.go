package protocol

// Version is the protocol version a client must announce in its Handshake to log in.
const Version = 47

// State is the protocol phase of one connection.
type State int32

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanAdvance reports whether a connection in state s may move to next.
// States only move forward; Closed is reachable from everywhere and is terminal.
func (s State) CanAdvance(next State) bool {
	switch s {
	case StateHandshake:
		return next == StateStatus || next == StateLogin || next == StateClosed
	case StateStatus:
		return next == StateClosed
	case StateLogin:
		return next == StatePlay || next == StateClosed
	case StatePlay:
		return next == StateClosed
	default:
		return false
	}
}

// Direction tells which side sends a packet.
type Direction uint8

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	if d == Clientbound {
		return "clientbound"
	}
	return "serverbound"
}

// Handshake NextState values.
const (
	IntentStatus int32 = 1
	IntentLogin  int32 = 2
)
