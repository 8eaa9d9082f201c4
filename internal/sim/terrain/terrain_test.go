package terrain

import (
	"testing"

	"voxelgate.ai/internal/sim/world"
)

func TestGenerateIsDeterministic(t *testing.T) {
	g1 := New(Config{Seed: 42, Height: 64})
	g2 := New(Config{Seed: 42, Height: 64})
	for _, k := range []world.ChunkKey{{CX: 0, CZ: 0}, {CX: -3, CZ: 7}, {CX: 100, CZ: -100}} {
		a, b := g1.Generate(k), g2.Generate(k)
		for i := range a.Blocks {
			if a.Blocks[i] != b.Blocks[i] {
				t.Fatalf("chunk %v differs at %d", k, i)
			}
		}
		if a.Dirty() {
			t.Fatalf("generated chunk must start clean")
		}
	}
}

func TestGenerateMatchesHeightAt(t *testing.T) {
	g := New(Config{Seed: 7, Height: 64})
	k := world.ChunkKey{CX: -1, CZ: 2}
	c := g.Generate(k)
	var blocks Blocks
	for lz := 0; lz < world.ChunkSize; lz++ {
		for lx := 0; lx < world.ChunkSize; lx++ {
			wx := int(k.CX)*world.ChunkSize + lx
			wz := int(k.CZ)*world.ChunkSize + lz
			h := g.HeightAt(wx, wz)
			if h <= 0 || h >= 64 {
				t.Fatalf("height %d out of range", h)
			}
			if !blocks.Solid(c.Block(lx, h, lz)) {
				t.Fatalf("ground at (%d,%d,%d) is %d", wx, h, wz, c.Block(lx, h, lz))
			}
			if !blocks.Solid(c.Block(lx, 0, lz)) {
				t.Fatalf("bedrock layer missing at (%d,%d)", wx, wz)
			}
		}
	}
}

func TestSpawnIsClear(t *testing.T) {
	g := New(Config{Seed: 1337, Height: 64})
	c := g.Generate(world.ChunkOf(0, 0))
	y := g.SurfaceY(0, 0)
	for dy := 0; dy < 2; dy++ {
		if b := c.Block(0, y+dy, 0); b != Air {
			t.Fatalf("spawn blocked by %s at y=%d", Blocks{}.Def(b).Name, y+dy)
		}
	}
}

func TestBlockTable(t *testing.T) {
	var b Blocks
	if b.Opaque(Air) || b.Solid(Air) {
		t.Fatalf("air must be transparent and passable")
	}
	if !b.Opaque(Stone) || b.Emission(Stone) != 0 {
		t.Fatalf("stone props")
	}
	if b.Emission(Glowstone) != 15 || b.Emission(Torch) == 0 || b.Opaque(Torch) {
		t.Fatalf("emitter props")
	}
	if b.Valid(uint16(b.Count())) {
		t.Fatalf("id past the table must be invalid")
	}
	if !b.Opaque(999) {
		t.Fatalf("unknown ids are treated as opaque")
	}
}
