package terrain

import "voxelgate.ai/internal/sim/world"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9))
}

// unit maps a hash to [0, 1).
func unit(h uint64) float64 { return float64(h>>11) / float64(1<<53) }

// valueNoise is bilinear value noise on a square lattice of the given cell size, in [0, 1).
func valueNoise(seed int64, x, z, cell int) float64 {
	gx, gz := world.FloorDiv(x, cell), world.FloorDiv(z, cell)
	fx := float64(world.Mod(x, cell)) / float64(cell)
	fz := float64(world.Mod(z, cell)) / float64(cell)
	fx = fx * fx * (3 - 2*fx)
	fz = fz * fz * (3 - 2*fz)

	v00 := unit(hash2(seed, gx, gz))
	v10 := unit(hash2(seed, gx+1, gz))
	v01 := unit(hash2(seed, gx, gz+1))
	v11 := unit(hash2(seed, gx+1, gz+1))
	a := v00 + (v10-v00)*fx
	b := v01 + (v11-v01)*fx
	return a + (b-a)*fz
}

type Biome uint8

const (
	Plains Biome = iota
	Forest
	Desert
)

func (b Biome) String() string {
	switch b {
	case Forest:
		return "FOREST"
	case Desert:
		return "DESERT"
	default:
		return "PLAINS"
	}
}

// biomeAt assigns one biome per square region.
func biomeAt(seed int64, x, z, regionSize int) Biome {
	if regionSize <= 0 {
		regionSize = 1
	}
	return Biome(hash2(seed, world.FloorDiv(x, regionSize), world.FloorDiv(z, regionSize)) % 3)
}

func withinSpawnClear(x, z, radius int) bool {
	if radius <= 0 {
		return false
	}
	r, dx, dz := int64(radius), int64(x), int64(z)
	return dx*dx+dz*dz <= r*r
}
