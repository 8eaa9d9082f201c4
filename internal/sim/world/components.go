package world

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"voxelgate.ai/internal/session"
)

// ComponentID names one store or world resource for the scheduler's access declarations.
type ComponentID uint8

const (
	CompArena ComponentID = iota // entity creation and removal, connection index
	CompPlayer
	CompPosition
	CompTracking
	CompKeepAlive
	CompView
	CompChunks // chunk table: blocks and light
	CompChunkRequests
	CompEdits
)

var componentNames = [...]string{
	CompArena:         "arena",
	CompPlayer:        "player",
	CompPosition:      "position",
	CompTracking:      "tracking",
	CompKeepAlive:     "keepalive",
	CompView:          "view",
	CompChunks:        "chunks",
	CompChunkRequests: "chunk_requests",
	CompEdits:         "edits",
}

func (c ComponentID) String() string {
	if int(c) < len(componentNames) && componentNames[c] != "" {
		return componentNames[c]
	}
	return "component"
}

// Player ties an entity to its connection and verified profile.
type Player struct {
	ID    uuid.UUID
	Name  string
	Conn  session.ID
	NetID int32 // id used on the wire
}

type Position struct {
	Pos        mgl64.Vec3
	Yaw, Pitch float32
	OnGround   bool
}

// Tracking is what this player's client was last told about other players.
type Tracking struct {
	Visible map[int32]Entity // net id -> entity spawned on this client
	LastPos mgl64.Vec3       // own position at the last broadcast
	LastYaw float32
	Moved   bool
}

type KeepAlive struct {
	PendingID int64  // 0 when no ping is outstanding
	SentTick  uint64 // tick of the last ping, or of the spawn
	TimedOut  bool
}

// View is the set of chunks a player's client holds.
type View struct {
	Center ChunkKey
	Loaded map[ChunkKey]struct{}
	Placed bool // Center is meaningful
}
