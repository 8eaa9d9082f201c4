package systems

import (
	"github.com/go-gl/mathgl/mgl64"

	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Tracking tells each client about the other players within range: a spawn when one comes
// into range, a teleport when a visible one moved, and a destroy when one leaves range.
type Tracking struct {
	rangeSq float64
	moved   map[world.Entity]bool
	gone    []int32
}

func NewTracking(cfg Config) *Tracking {
	cfg.normalize()
	r := float64(cfg.ViewDistance * world.ChunkSize)
	return &Tracking{rangeSq: r * r, moved: map[world.Entity]bool{}}
}

func (*Tracking) Name() string { return "tracking" }

func (*Tracking) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompPlayer, world.CompPosition},
		[]world.ComponentID{world.CompTracking},
	)
}

func (s *Tracking) Run(ctx *schedule.Context) error {
	w := ctx.World
	clear(s.moved)

	// Pass 1: who moved since the last broadcast.
	w.Tracking.Each(func(e world.Entity, t *world.Tracking) {
		pos, ok := w.Positions.Get(e)
		if !ok {
			return
		}
		s.moved[e] = pos.Pos != t.LastPos || pos.Yaw != t.LastYaw
	})

	// Pass 2: per observer, diff what it sees against what it was told.
	w.Tracking.Each(func(obs world.Entity, t *world.Tracking) {
		op, ok := w.Players.Get(obs)
		if !ok {
			return
		}
		opos, ok := w.Positions.Get(obs)
		if !ok {
			return
		}
		s.gone = s.gone[:0]
		for netID, e := range t.Visible {
			pos, ok := w.Positions.Get(e)
			if !ok || !s.inRange(opos.Pos, pos.Pos) {
				delete(t.Visible, netID)
				s.gone = append(s.gone, netID)
			}
		}
		if len(s.gone) > 0 {
			ctx.Out.Unicast(op.Conn, &protocol.DestroyEntities{EntityIDs: append([]int32(nil), s.gone...)})
		}

		w.Players.Each(func(e world.Entity, p *world.Player) {
			if e == obs {
				return
			}
			pos, ok := w.Positions.Get(e)
			if !ok || !s.inRange(opos.Pos, pos.Pos) {
				return
			}
			if _, seen := t.Visible[p.NetID]; !seen {
				t.Visible[p.NetID] = e
				ctx.Out.Unicast(op.Conn, &protocol.SpawnPlayer{
					EntityID: p.NetID, UUID: p.ID, Name: p.Name,
					X: pos.Pos.X(), Y: pos.Pos.Y(), Z: pos.Pos.Z(), Yaw: pos.Yaw, Pitch: pos.Pitch,
				})
				return
			}
			if s.moved[e] {
				ctx.Out.Unicast(op.Conn, &protocol.EntityTeleport{
					EntityID: p.NetID,
					X:        pos.Pos.X(), Y: pos.Pos.Y(), Z: pos.Pos.Z(),
					Yaw: pos.Yaw, Pitch: pos.Pitch, OnGround: pos.OnGround,
				})
			}
		})
	})

	// Pass 3: remember what was broadcast.
	w.Tracking.Each(func(e world.Entity, t *world.Tracking) {
		if pos, ok := w.Positions.Get(e); ok {
			t.LastPos, t.LastYaw, t.Moved = pos.Pos, pos.Yaw, s.moved[e]
		}
	})
	return nil
}

func (s *Tracking) inRange(a, b mgl64.Vec3) bool {
	d := mgl64.Vec2{a.X() - b.X(), a.Z() - b.Z()}
	return d.Dot(d) <= s.rangeSq
}
