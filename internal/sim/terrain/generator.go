// Package terrain is the default world generator and the block property table. Generation is a
// pure function of (seed, chunk key), so chunks that were never saved can be regenerated at will.
package terrain

import (
	"voxelgate.ai/internal/sim/world"
)

type Config struct {
	Seed             int64
	Height           int
	BiomeRegionSize  int // blocks per biome region side
	SpawnClearRadius int // no trees within this radius of the origin
}

type Generator struct {
	cfg Config
}

func New(cfg Config) *Generator {
	if cfg.Height <= 0 {
		cfg.Height = 64
	}
	if cfg.BiomeRegionSize <= 0 {
		cfg.BiomeRegionSize = 128
	}
	if cfg.SpawnClearRadius <= 0 {
		cfg.SpawnClearRadius = 8
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Height() int { return g.cfg.Height }

// HeightAt is the y of the topmost ground block of column (x, z).
func (g *Generator) HeightAt(x, z int) int {
	base := g.cfg.Height / 4
	amp := float64(g.cfg.Height / 4)
	n := 0.7*valueNoise(g.cfg.Seed, x, z, 32) + 0.3*valueNoise(g.cfg.Seed+7, x, z, 8)
	if biomeAt(g.cfg.Seed, x, z, g.cfg.BiomeRegionSize) == Desert {
		amp /= 2
	}
	return base + int(n*amp)
}

// SurfaceY is the feet position of a player standing on column (x, z).
func (g *Generator) SurfaceY(x, z int) int { return g.HeightAt(x, z) + 1 }

func (g *Generator) BiomeAt(x, z int) Biome {
	return biomeAt(g.cfg.Seed, x, z, g.cfg.BiomeRegionSize)
}

// Generate builds the column at key. The returned chunk is clean and carries no light; the
// loader computes light before the chunk enters the world.
func (g *Generator) Generate(key world.ChunkKey) *world.Chunk {
	c := world.NewChunk(key, g.cfg.Height)
	seed := g.cfg.Seed
	for lz := 0; lz < world.ChunkSize; lz++ {
		for lx := 0; lx < world.ChunkSize; lx++ {
			wx := int(key.CX)*world.ChunkSize + lx
			wz := int(key.CZ)*world.ChunkSize + lz
			h := g.HeightAt(wx, wz)
			biome := g.BiomeAt(wx, wz)

			top, filler := Grass, Dirt
			if biome == Desert {
				top, filler = Sand, Sand
			}
			for y := 0; y <= h; y++ {
				b := Stone
				switch {
				case y == h:
					b = top
				case y > h-4:
					b = filler
				case y < h-6 && hash3(seed+11, wx, y, wz)%1500 == 0:
					b = Glowstone
				case hash3(seed+12, wx, y, wz)%97 == 0:
					b = Gravel
				}
				c.SetBlock(lx, y, lz, b)
			}

			// Trees stay inside the chunk so generation never depends on neighbours.
			if biome != Forest || withinSpawnClear(wx, wz, g.cfg.SpawnClearRadius) {
				continue
			}
			if lx < 2 || lx > world.ChunkSize-3 || lz < 2 || lz > world.ChunkSize-3 {
				continue
			}
			if hash2(seed+201, wx, wz)%1000 >= 12 || h+6 >= g.cfg.Height {
				continue
			}
			g.tree(c, lx, h+1, lz)
		}
	}
	c.MarkClean()
	return c
}

func (g *Generator) tree(c *world.Chunk, lx, y, lz int) {
	const trunk = 4
	for dy := 0; dy < trunk; dy++ {
		c.SetBlock(lx, y+dy, lz, Log)
	}
	for dy := trunk - 1; dy <= trunk; dy++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if c.Block(lx+dx, y+dy, lz+dz) == Air {
					c.SetBlock(lx+dx, y+dy, lz+dz, Leaves)
				}
			}
		}
	}
	c.SetBlock(lx, y+trunk+1, lz, Leaves)
}
