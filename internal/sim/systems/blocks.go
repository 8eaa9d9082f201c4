package systems

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/lighting"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

const eyeHeight = 1.62

// edit applies one block edit. An edit is accepted when the id exists, the block's chunk is
// loaded and the block is within reach of the player's eye; a rejected edit is answered with
// the block's real state so the client can roll back.
func (s *Actions) edit(ctx *schedule.Context, conn session.ID, pos *world.Position, pkt *protocol.BlockEdit) {
	w := ctx.World
	x, y, z := int(pkt.X), int(pkt.Y), int(pkt.Z)
	old, loaded := w.Chunks.Block(x, y, z)
	if !loaded {
		// Nothing to roll back to: the client cannot hold this chunk either.
		return
	}
	eye := pos.Pos.Add(mgl64.Vec3{0, eyeHeight, 0})
	centre := mgl64.Vec3{float64(x) + 0.5, float64(y) + 0.5, float64(z) + 0.5}
	if !s.blocks.Valid(pkt.Block) || centre.Sub(eye).Len() > s.cfg.Reach || s.occupied(w, x, y, z, pkt.Block) {
		l, _ := w.Chunks.Light(x, y, z)
		ctx.Out.Unicast(conn, &protocol.BlockChange{X: pkt.X, Y: pkt.Y, Z: pkt.Z, Block: old, Light: l})
		return
	}
	if old == pkt.Block {
		return
	}
	w.Chunks.SetBlock(x, y, z, pkt.Block)
	w.Edits = append(w.Edits, world.Edit{Conn: conn, X: x, Y: y, Z: z, Old: old, Block: pkt.Block})
}

// occupied reports whether placing a solid block at (x, y, z) would trap a player.
func (s *Actions) occupied(w *world.World, x, y, z int, b uint16) bool {
	if !s.blocks.Solid(b) {
		return false
	}
	hit := false
	w.Positions.Each(func(_ world.Entity, p *world.Position) {
		px, pz := int(math.Floor(p.Pos.X())), int(math.Floor(p.Pos.Z()))
		py := int(math.Floor(p.Pos.Y()))
		if px == x && pz == z && (py == y || py+1 == y) {
			hit = true
		}
	})
	return hit
}

// Lighting relights around this tick's edits, announces each edit with its final light to
// the players viewing its chunk, and records every chunk whose light changed.
type Lighting struct {
	engine *lighting.Engine
}

func NewLighting(blocks Blocks) *Lighting {
	return &Lighting{engine: lighting.New(blocks)}
}

func (*Lighting) Name() string { return "lighting" }

func (*Lighting) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompPlayer, world.CompView},
		[]world.ComponentID{world.CompChunks, world.CompEdits},
	)
}

func (s *Lighting) Run(ctx *schedule.Context) error {
	w := ctx.World
	if len(w.Edits) == 0 {
		return nil
	}
	for _, ed := range w.Edits {
		s.engine.Update(w.Chunks, ed.X, ed.Y, ed.Z, ed.Old, ed.Block, w.Relit)
		l, _ := w.Chunks.Light(ed.X, ed.Y, ed.Z)
		pkt := &protocol.BlockChange{X: int32(ed.X), Y: int32(ed.Y), Z: int32(ed.Z), Block: ed.Block, Light: l}
		key := world.ChunkOf(ed.X, ed.Z)
		w.Views.Each(func(e world.Entity, v *world.View) {
			if _, ok := v.Loaded[key]; !ok {
				return
			}
			if p, ok := w.Players.Get(e); ok {
				ctx.Out.Unicast(p.Conn, pkt)
			}
		})
	}
	w.Edits = w.Edits[:0]
	return nil
}
