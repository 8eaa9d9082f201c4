package protocol

import (
	"encoding/json"

	"github.com/Tnze/go-mc/chat"
)

// Disconnect reason codes. Each code maps to the user-visible text sent before the socket closes.
const (
	// Protocol violations (possibly hostile).
	ReasonProtocolViolation = "E_PROTO_VIOLATION"
	ReasonBadUsername       = "E_PROTO_BAD_USERNAME"

	// Handshake/authentication.
	ReasonOutdated       = "E_AUTH_OUTDATED"
	ReasonInvalidSession = "E_AUTH_INVALID_SESSION"
	ReasonAuthRejected   = "E_AUTH_REJECTED"
	ReasonAuthFailed     = "E_AUTH_UNAVAILABLE"
	ReasonLoginTimeout   = "E_AUTH_TIMEOUT"
	ReasonDuplicateLogin = "E_AUTH_DUPLICATE"

	// Transient / load shedding.
	ReasonOverloaded = "E_CONN_OVERLOADED"
	ReasonTimedOut   = "E_CONN_TIMED_OUT"
	ReasonQuit       = "E_CONN_QUIT"
	ReasonServerFull = "E_CONN_SERVER_FULL"

	// Server side.
	ReasonKicked        = "E_SERVER_KICKED"
	ReasonServerClosing = "E_SERVER_CLOSING"
)

var reasonText = map[string]string{
	ReasonProtocolViolation: "Protocol error",
	ReasonBadUsername:       "Invalid username",
	ReasonOutdated:          "Outdated client",
	ReasonInvalidSession:    "Invalid session",
	ReasonAuthRejected:      "Failed to verify username",
	ReasonAuthFailed:        "Couldn't verify your session, try again later",
	ReasonLoginTimeout:      "Took too long to log in",
	ReasonDuplicateLogin:    "You logged in from another location",
	ReasonOverloaded:        "Connection overloaded",
	ReasonTimedOut:          "Timed out",
	ReasonQuit:              "Disconnected",
	ReasonServerFull:        "Server is full",
	ReasonKicked:            "Kicked by server",
	ReasonServerClosing:     "Server closing",
}

func IsKnownReason(code string) bool {
	_, ok := reasonText[code]
	return ok
}

// ReasonText returns the user-visible text for a code; unknown codes are shown verbatim.
func ReasonText(code string) string {
	if t, ok := reasonText[code]; ok {
		return t
	}
	return code
}

// ReasonJSON renders the reason as a JSON chat component.
func ReasonJSON(code string) string {
	return ChatJSON(chat.Text(ReasonText(code)))
}

// ChatJSON marshals a chat component; marshalling a plain component cannot fail.
func ChatJSON(m chat.Message) string {
	b, err := json.Marshal(m)
	if err != nil {
		return `{"text":""}`
	}
	return string(b)
}

// ParseChat extracts the plain text of a JSON chat component.
func ParseChat(s string) string {
	var m chat.Message
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return s
	}
	return m.ClearString()
}
