package observerproto

// Version is the observer protocol version (separate from the game wire protocol).
const Version = "1.0"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Every N ticks one TICK message is sent; 0 or 1 means every tick.
	Every int `json:"every,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz   int    `json:"tick_rate_hz"`
	ChunkSize    [3]int `json:"chunk_size"`
	Height       int    `json:"height"`
	Seed         int64  `json:"seed"`
	ViewDistance int    `json:"view_distance"`
	MaxPlayers   int    `json:"max_players"`
}

// Server -> Client. Sent every subscribed tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Drained  int     `json:"drained"`
	Joins    int     `json:"joins"`
	Leaves   int     `json:"leaves"`
	Packets  int     `json:"packets"`
	Outbound int     `json:"outbound"`
	StepMS   float64 `json:"step_ms"`
	Overrun  bool    `json:"overrun,omitempty"`

	Players int `json:"players"`
	Chunks  int `json:"chunks"`

	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped,omitempty"`
	Shed      int `json:"shed,omitempty"`
	Kicked    int `json:"kicked,omitempty"`

	// Skipped is the number of TICK messages this subscriber lost to a full queue.
	Skipped uint64 `json:"skipped,omitempty"`
}
