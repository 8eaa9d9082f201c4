package lighting

import (
	"testing"

	"voxelgate.ai/internal/sim/terrain"
	"voxelgate.ai/internal/sim/world"
)

func airTable(keys ...world.ChunkKey) *world.ChunkTable {
	t := world.NewChunkTable(32)
	for _, k := range keys {
		t.Put(world.NewChunk(k, 32))
	}
	return t
}

func place(e *Engine, t *world.ChunkTable, x, y, z int, b uint16, changed map[world.ChunkKey]struct{}) {
	old, _ := t.Block(x, y, z)
	t.SetBlock(x, y, z, b)
	e.Update(t, x, y, z, old, b, changed)
}

func light(t *world.ChunkTable, x, y, z int) uint8 {
	l, _ := t.Light(x, y, z)
	return l
}

func TestEmitterFloodsByManhattanDistance(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	place(e, tb, 8, 10, 8, terrain.Torch, nil)

	if got := light(tb, 8, 10, 8); got != 14 {
		t.Fatalf("source light %d", got)
	}
	cases := []struct{ x, y, z int; want uint8 }{
		{9, 10, 8, 13},
		{11, 10, 8, 11},
		{8, 12, 10, 10},
		{0, 10, 8, 6},
		{8, 10, 15, 7},
	}
	for _, c := range cases {
		if got := light(tb, c.x, c.y, c.z); got != c.want {
			t.Fatalf("light at (%d,%d,%d) = %d want %d", c.x, c.y, c.z, got, c.want)
		}
	}
}

func TestRemovingEmitterClearsItsLight(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	place(e, tb, 8, 10, 8, terrain.Glowstone, nil)
	place(e, tb, 8, 10, 8, terrain.Air, nil)

	c, _ := tb.Get(world.ChunkKey{})
	for i, l := range c.Light {
		if l != 0 {
			t.Fatalf("light %d left at index %d", l, i)
		}
	}
}

func TestRemovingOneOfTwoEmittersKeepsTheOther(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	place(e, tb, 2, 10, 8, terrain.Torch, nil)
	place(e, tb, 12, 10, 8, terrain.Torch, nil)
	place(e, tb, 2, 10, 8, terrain.Air, nil)

	if got := light(tb, 12, 10, 8); got != 14 {
		t.Fatalf("remaining torch %d", got)
	}
	if got := light(tb, 2, 10, 8); got != 4 {
		t.Fatalf("old torch cell = %d, want 14-10=4", got)
	}
}

func TestOpaqueEnclosureBlocksLight(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	for x := 4; x <= 6; x++ {
		for y := 4; y <= 6; y++ {
			for z := 4; z <= 6; z++ {
				tb.SetBlock(x, y, z, terrain.Stone)
			}
		}
	}
	place(e, tb, 5, 5, 5, terrain.Torch, nil)
	if got := light(tb, 5, 5, 5); got != 14 {
		t.Fatalf("torch cell %d", got)
	}
	if got := light(tb, 5, 5, 8); got != 0 {
		t.Fatalf("light leaked through stone: %d", got)
	}

	// Opening the wall lets light out at the brightest neighbour minus one.
	place(e, tb, 5, 5, 6, terrain.Air, nil)
	if got := light(tb, 5, 5, 6); got != 13 {
		t.Fatalf("opened cell %d", got)
	}
	if got := light(tb, 5, 5, 8); got != 11 {
		t.Fatalf("light outside %d", got)
	}
}

func TestOpaqueRemovalTakesBrightestNeighbour(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	tb.SetBlock(5, 1, 5, terrain.Stone)
	tb.SetLight(5, 0, 5, 10)
	tb.SetLight(5, 2, 5, 9)
	tb.SetLight(6, 1, 5, 8)
	tb.SetLight(4, 1, 5, 11)
	tb.SetLight(5, 1, 6, 0)
	tb.SetLight(5, 1, 4, 12)

	place(e, tb, 5, 1, 5, terrain.Air, nil)
	if got := light(tb, 5, 1, 5); got != 11 {
		t.Fatalf("got %d want 11", got)
	}
}

func TestPlacingOpaqueCastsShadow(t *testing.T) {
	tb := airTable(world.ChunkKey{})
	e := New(terrain.Blocks{})
	// A one-wide corridor along x at y=5, z=5.
	for x := 0; x < 16; x++ {
		for y := 4; y <= 6; y++ {
			for z := 4; z <= 6; z++ {
				if y != 5 || z != 5 {
					tb.SetBlock(x, y, z, terrain.Stone)
				}
			}
		}
	}
	for x := 0; x < 16; x++ {
		for _, y := range []int{3, 7} {
			for z := 0; z < 16; z++ {
				tb.SetBlock(x, y, z, terrain.Stone)
			}
		}
		for y := 3; y <= 7; y++ {
			tb.SetBlock(x, y, 3, terrain.Stone)
			tb.SetBlock(x, y, 7, terrain.Stone)
		}
	}
	place(e, tb, 1, 5, 5, terrain.Torch, nil)
	if got := light(tb, 8, 5, 5); got != 7 {
		t.Fatalf("corridor light %d", got)
	}
	place(e, tb, 4, 5, 5, terrain.Stone, nil)
	if got := light(tb, 4, 5, 5); got != 0 {
		t.Fatalf("opaque cell lit: %d", got)
	}
	if got := light(tb, 8, 5, 5); got != 0 {
		t.Fatalf("shadowed corridor still lit: %d", got)
	}
	if got := light(tb, 3, 5, 5); got != 12 {
		t.Fatalf("lit side changed: %d", got)
	}
}

func TestLightCrossesLoadedChunksOnly(t *testing.T) {
	tb := airTable(world.ChunkKey{CX: 0}, world.ChunkKey{CX: 1})
	e := New(terrain.Blocks{})
	changed := map[world.ChunkKey]struct{}{}
	place(e, tb, 15, 10, 8, terrain.Glowstone, changed)

	if got := light(tb, 16, 10, 8); got != 14 {
		t.Fatalf("neighbour chunk light %d", got)
	}
	if _, ok := changed[world.ChunkKey{CX: 1}]; !ok {
		t.Fatalf("neighbour chunk not reported: %v", changed)
	}
	if _, ok := changed[world.ChunkKey{CX: 0}]; !ok {
		t.Fatalf("source chunk not reported: %v", changed)
	}
	if len(changed) != 2 {
		t.Fatalf("unloaded chunks reported: %v", changed)
	}
}

func TestRelightChunk(t *testing.T) {
	g := terrain.New(terrain.Config{Seed: 3, Height: 32})
	c := g.Generate(world.ChunkKey{CX: 2, CZ: 2})
	c.SetBlock(3, 30, 3, terrain.Torch)
	e := New(terrain.Blocks{})
	e.RelightChunk(c)
	if got := c.LightAt(3, 30, 3); got != 14 {
		t.Fatalf("torch %d", got)
	}
	if got := c.LightAt(3, 30, 5); got != 12 {
		t.Fatalf("near torch %d", got)
	}
}
