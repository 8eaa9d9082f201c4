package systems

import (
	"math"
	"sort"

	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Streaming keeps each client's chunk set equal to the square of view distance around the
// player: missing loaded chunks are sent nearest first, a few per tick; chunks that fell out of
// range are unloaded on the client; chunks not loaded on the server are requested from the
// loader; chunks relit this tick are sent again to everyone holding them.
type Streaming struct {
	cfg     Config
	offsets []chunkOffset
	cache   map[world.ChunkKey]*protocol.ChunkData
}

type chunkOffset struct{ dx, dz int32 }

func NewStreaming(cfg Config) *Streaming {
	cfg.normalize()
	r := int32(cfg.ViewDistance)
	var offs []chunkOffset
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			offs = append(offs, chunkOffset{dx, dz})
		}
	}
	sort.SliceStable(offs, func(i, j int) bool {
		a, b := offs[i], offs[j]
		return a.dx*a.dx+a.dz*a.dz < b.dx*b.dx+b.dz*b.dz
	})
	return &Streaming{cfg: cfg, offsets: offs, cache: map[world.ChunkKey]*protocol.ChunkData{}}
}

func (*Streaming) Name() string { return "streaming" }

func (*Streaming) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompPlayer, world.CompPosition, world.CompChunks},
		[]world.ComponentID{world.CompView, world.CompChunkRequests, world.CompEdits},
	)
}

// InView reports whether chunk k is inside the view square centred on c.
func InView(c, k world.ChunkKey, distance int) bool {
	dx, dz := k.CX-c.CX, k.CZ-c.CZ
	r := int32(distance)
	return dx >= -r && dx <= r && dz >= -r && dz <= r
}

func (s *Streaming) Run(ctx *schedule.Context) error {
	w := ctx.World
	clear(s.cache)

	w.Views.Each(func(e world.Entity, v *world.View) {
		p, ok := w.Players.Get(e)
		if !ok {
			return
		}
		pos, ok := w.Positions.Get(e)
		if !ok {
			return
		}
		center := world.ChunkOf(int(math.Floor(pos.Pos.X())), int(math.Floor(pos.Pos.Z())))
		v.Center, v.Placed = center, true

		for k := range v.Loaded {
			if !InView(center, k, s.cfg.ViewDistance) {
				delete(v.Loaded, k)
				ctx.Out.Unicast(p.Conn, &protocol.UnloadChunk{CX: k.CX, CZ: k.CZ})
				continue
			}
			if _, relit := w.Relit[k]; relit {
				if c, ok := w.Chunks.Get(k); ok {
					ctx.Out.Unicast(p.Conn, s.packet(c))
				}
			}
		}

		sent := 0
		for _, o := range s.offsets {
			k := world.ChunkKey{CX: center.CX + o.dx, CZ: center.CZ + o.dz}
			if _, ok := v.Loaded[k]; ok {
				continue
			}
			c, ok := w.Chunks.Get(k)
			if !ok {
				w.ChunkRequests[k] = struct{}{}
				continue
			}
			if sent >= s.cfg.ChunksPerTick {
				continue
			}
			ctx.Out.Unicast(p.Conn, s.packet(c))
			v.Loaded[k] = struct{}{}
			sent++
		}
	})
	clear(w.Relit)
	return nil
}

// packet encodes c once per tick however many players receive it.
func (s *Streaming) packet(c *world.Chunk) *protocol.ChunkData {
	if pkt, ok := s.cache[c.Key]; ok {
		return pkt
	}
	pkt := ChunkPacket(c)
	s.cache[c.Key] = pkt
	return pkt
}

func ChunkPacket(c *world.Chunk) *protocol.ChunkData {
	return &protocol.ChunkData{
		CX:     c.Key.CX,
		CZ:     c.Key.CZ,
		Height: int32(c.Height),
		Blocks: protocol.EncodeRLE(c.Blocks),
		Light:  c.PackedLight(),
	}
}
