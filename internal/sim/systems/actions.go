package systems

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Actions applies a player's position updates and block edits in the order the client sent
// them, so an edit's reach is measured from where the player stood when it was made.
//
// A move is rejected, and the client is sent back to its last accepted position, when it is
// too long for one packet, leaves the world's vertical range, or ends inside a solid block or
// an unloaded chunk.
type Actions struct {
	cfg    Config
	blocks Blocks
	synced map[session.ID]struct{}
}

func NewActions(cfg Config, blocks Blocks) *Actions {
	cfg.normalize()
	return &Actions{cfg: cfg, blocks: blocks, synced: map[session.ID]struct{}{}}
}

func (*Actions) Name() string { return "actions" }

func (*Actions) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompArena, world.CompPlayer},
		[]world.ComponentID{world.CompPosition, world.CompChunks, world.CompEdits},
	)
}

func (*Actions) Routes(m *bridge.Message) bool {
	if m.Kind != bridge.KindPacket {
		return false
	}
	switch m.Packet.(type) {
	case *protocol.PlayerPosition, *protocol.BlockEdit:
		return true
	}
	return false
}

func (s *Actions) Run(ctx *schedule.Context) error {
	clear(s.synced)
	for _, m := range ctx.Inbox {
		e, _, ok := playerOf(ctx.World, m.Conn)
		if !ok {
			continue
		}
		pos, ok := ctx.World.Positions.Get(e)
		if !ok {
			continue
		}
		switch pkt := m.Packet.(type) {
		case *protocol.PlayerPosition:
			s.move(ctx, m.Conn, pos, pkt)
		case *protocol.BlockEdit:
			s.edit(ctx, m.Conn, pos, pkt)
		}
	}
	return nil
}

func (s *Actions) move(ctx *schedule.Context, conn session.ID, pos *world.Position, pkt *protocol.PlayerPosition) {
	if !finite(pkt.X, pkt.Y, pkt.Z, float64(pkt.Yaw), float64(pkt.Pitch)) {
		ctx.Log.Warn("security: protocol violation",
			zap.Uint64("conn", uint64(conn)), zap.String("detail", "non-finite position"))
		ctx.Out.Kick(conn, protocol.ReasonProtocolViolation)
		return
	}
	target := mgl64.Vec3{pkt.X, pkt.Y, pkt.Z}
	if !s.valid(ctx.World, pos.Pos, target) {
		if _, done := s.synced[conn]; !done {
			s.synced[conn] = struct{}{}
			ctx.Out.Unicast(conn, &protocol.SyncPosition{
				X: pos.Pos.X(), Y: pos.Pos.Y(), Z: pos.Pos.Z(), Yaw: pos.Yaw, Pitch: pos.Pitch,
			})
		}
		return
	}
	pos.Pos = target
	pos.Yaw = pkt.Yaw
	pos.Pitch = clampPitch(pkt.Pitch)
	pos.OnGround = pkt.OnGround
}

func (s *Actions) valid(w *world.World, from, to mgl64.Vec3) bool {
	if to.Sub(from).Len() > s.cfg.MaxMovePerTick {
		return false
	}
	if to.Y() < 0 || to.Y() >= float64(s.cfg.Height) {
		return false
	}
	x, y, z := int(math.Floor(to.X())), int(math.Floor(to.Y())), int(math.Floor(to.Z()))
	feet, ok := w.Chunks.Block(x, y, z)
	if !ok || s.blocks.Solid(feet) {
		return false
	}
	return true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clampPitch(p float32) float32 {
	if p > 90 {
		return 90
	}
	if p < -90 {
		return -90
	}
	return p
}
