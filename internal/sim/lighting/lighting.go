// Package lighting maintains block light (0..15) over the chunk table.
//
// Four kinds of block update are handled:
//   - an emitter is placed: flood fill outward, one level lost per step;
//   - an emitter is removed: clear everything it lit, then refill from the border of the
//     cleared region;
//   - an opaque block is placed: its cell drops to 0 and the region it shadowed is cleared and
//     refilled the same way;
//   - an opaque block is removed: the cell takes the brightest neighbour minus one and floods
//     from there.
//
// All four reduce to one removal pass followed by one propagation pass. Opaque blocks stop
// propagation; light never crosses into chunks that are not loaded.
package lighting

import (
	"voxelgate.ai/internal/sim/world"
)

// Props is the part of the block table lighting needs.
type Props interface {
	Opaque(id uint16) bool
	Emission(id uint16) uint8
}

type node struct {
	x, y, z int
	level   uint8
}

var offsets = [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}}

// Engine reuses its queues between updates. It is not safe for concurrent use.
type Engine struct {
	props   Props
	remove  []node
	add     []node
	changed map[world.ChunkKey]struct{}
}

func New(props Props) *Engine {
	return &Engine{props: props}
}

// Update relights around (x, y, z) after its block changed from old to now. The table must
// already hold now. Chunks whose light changed are added to changed when it is non-nil.
func (e *Engine) Update(t *world.ChunkTable, x, y, z int, old, now uint16, changed map[world.ChunkKey]struct{}) {
	e.changed = changed
	defer func() { e.changed = nil }()

	cur, ok := t.Light(x, y, z)
	if !ok {
		return
	}
	e.remove = e.remove[:0]
	e.add = e.add[:0]

	if cur > 0 {
		e.set(t, x, y, z, 0)
		e.remove = append(e.remove, node{x, y, z, cur})
		e.unlight(t)
	}

	if em := e.props.Emission(now); em > 0 {
		e.set(t, x, y, z, em)
		e.add = append(e.add, node{x, y, z, em})
	} else if !e.props.Opaque(now) {
		for _, o := range offsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if l, ok := t.Light(nx, ny, nz); ok && l > 0 {
				e.add = append(e.add, node{nx, ny, nz, l})
			}
		}
	}
	e.propagate(t)
}

// RelightChunk recomputes the light of one chunk from the emitters it contains.
func (e *Engine) RelightChunk(c *world.Chunk) {
	for i := range c.Light {
		c.Light[i] = 0
	}
	t := world.NewChunkTable(c.Height)
	t.Put(c)
	e.changed = nil
	e.add = e.add[:0]
	baseX, baseZ := int(c.Key.CX)*world.ChunkSize, int(c.Key.CZ)*world.ChunkSize
	for y := 0; y < c.Height; y++ {
		for lz := 0; lz < world.ChunkSize; lz++ {
			for lx := 0; lx < world.ChunkSize; lx++ {
				if em := e.props.Emission(c.Block(lx, y, lz)); em > 0 {
					c.SetLight(lx, y, lz, em)
					e.add = append(e.add, node{baseX + lx, y, baseZ + lz, em})
				}
			}
		}
	}
	e.propagate(t)
}

// unlight clears every cell whose light came from the removed levels. Cells at least as bright
// as the front are lit by another source and become seeds for propagation.
func (e *Engine) unlight(t *world.ChunkTable) {
	for len(e.remove) > 0 {
		n := e.remove[0]
		e.remove = e.remove[1:]
		for _, o := range offsets {
			nx, ny, nz := n.x+o[0], n.y+o[1], n.z+o[2]
			l, ok := t.Light(nx, ny, nz)
			if !ok || l == 0 {
				continue
			}
			b, _ := t.Block(nx, ny, nz)
			if l < n.level && e.props.Emission(b) == 0 {
				e.set(t, nx, ny, nz, 0)
				e.remove = append(e.remove, node{nx, ny, nz, l})
			} else {
				e.add = append(e.add, node{nx, ny, nz, l})
			}
		}
	}
}

func (e *Engine) propagate(t *world.ChunkTable) {
	for len(e.add) > 0 {
		n := e.add[0]
		e.add = e.add[1:]
		l, ok := t.Light(n.x, n.y, n.z)
		if !ok || l <= 1 {
			continue
		}
		for _, o := range offsets {
			nx, ny, nz := n.x+o[0], n.y+o[1], n.z+o[2]
			b, ok := t.Block(nx, ny, nz)
			if !ok || e.props.Opaque(b) {
				continue
			}
			nl, _ := t.Light(nx, ny, nz)
			if nl+2 <= l {
				e.set(t, nx, ny, nz, l-1)
				e.add = append(e.add, node{nx, ny, nz, l - 1})
			}
		}
	}
}

func (e *Engine) set(t *world.ChunkTable, x, y, z int, v uint8) {
	if t.SetLight(x, y, z, v) && e.changed != nil {
		e.changed[world.ChunkOf(x, z)] = struct{}{}
	}
}
