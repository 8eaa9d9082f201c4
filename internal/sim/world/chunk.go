package world

import (
	"sort"
)

const (
	ChunkSize = 16
	MaxLight  = 15
)

type ChunkKey struct {
	CX int32
	CZ int32
}

// ChunkOf returns the column containing block (x, z).
func ChunkOf(x, z int) ChunkKey {
	return ChunkKey{CX: int32(FloorDiv(x, ChunkSize)), CZ: int32(FloorDiv(z, ChunkSize))}
}

// Chunk is one 16 x Height x 16 column. Blocks and Light share the index x + z*16 + y*256.
type Chunk struct {
	Key    ChunkKey
	Height int
	Blocks []uint16
	Light  []uint8 // block light, 0..15

	dirty bool
}

func NewChunk(key ChunkKey, height int) *Chunk {
	n := ChunkSize * ChunkSize * height
	return &Chunk{
		Key:    key,
		Height: height,
		Blocks: make([]uint16, n),
		Light:  make([]uint8, n),
	}
}

func (c *Chunk) index(x, y, z int) int { return x + z*ChunkSize + y*ChunkSize*ChunkSize }

func (c *Chunk) inside(x, y, z int) bool {
	return x >= 0 && x < ChunkSize && z >= 0 && z < ChunkSize && y >= 0 && y < c.Height
}

// Block returns the block at local coordinates; out-of-range reads are air (0).
func (c *Chunk) Block(x, y, z int) uint16 {
	if !c.inside(x, y, z) {
		return 0
	}
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) SetBlock(x, y, z int, b uint16) {
	if !c.inside(x, y, z) {
		return
	}
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) LightAt(x, y, z int) uint8 {
	if !c.inside(x, y, z) {
		return 0
	}
	return c.Light[c.index(x, y, z)]
}

func (c *Chunk) SetLight(x, y, z int, v uint8) {
	if !c.inside(x, y, z) {
		return
	}
	if v > MaxLight {
		v = MaxLight
	}
	c.Light[c.index(x, y, z)] = v
}

// Dirty reports whether blocks changed since the chunk was loaded or last saved.
func (c *Chunk) Dirty() bool { return c.dirty }
func (c *Chunk) MarkDirty()  { c.dirty = true }
func (c *Chunk) MarkClean()  { c.dirty = false }

// PackedLight returns two 4-bit light values per byte, low nibble first.
func (c *Chunk) PackedLight() []byte {
	out := make([]byte, (len(c.Light)+1)/2)
	for i, v := range c.Light {
		if i%2 == 0 {
			out[i/2] |= v & 0x0f
		} else {
			out[i/2] |= (v & 0x0f) << 4
		}
	}
	return out
}

// UnpackLight is the inverse of PackedLight.
func UnpackLight(packed []byte, n int) []uint8 {
	out := make([]uint8, n)
	for i := 0; i < n && i/2 < len(packed); i++ {
		if i%2 == 0 {
			out[i] = packed[i/2] & 0x0f
		} else {
			out[i] = packed[i/2] >> 4
		}
	}
	return out
}

// ChunkTable holds every loaded column, keyed by chunk coordinate.
type ChunkTable struct {
	Height int
	chunks map[ChunkKey]*Chunk
}

func NewChunkTable(height int) *ChunkTable {
	return &ChunkTable{Height: height, chunks: map[ChunkKey]*Chunk{}}
}

func (t *ChunkTable) Get(k ChunkKey) (*Chunk, bool) {
	c, ok := t.chunks[k]
	return c, ok
}

func (t *ChunkTable) Put(c *Chunk) { t.chunks[c.Key] = c }

func (t *ChunkTable) Remove(k ChunkKey) (*Chunk, bool) {
	c, ok := t.chunks[k]
	if ok {
		delete(t.chunks, k)
	}
	return c, ok
}

func (t *ChunkTable) Len() int { return len(t.chunks) }

// Keys lists loaded chunks in (CX, CZ) order.
func (t *ChunkTable) Keys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(t.chunks))
	for k := range t.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func (t *ChunkTable) locate(x, y, z int) (*Chunk, int, int, bool) {
	if y < 0 || y >= t.Height {
		return nil, 0, 0, false
	}
	c, ok := t.chunks[ChunkOf(x, z)]
	if !ok {
		return nil, 0, 0, false
	}
	return c, Mod(x, ChunkSize), Mod(z, ChunkSize), true
}

// Block returns the block at world coordinates and whether its chunk is loaded.
func (t *ChunkTable) Block(x, y, z int) (uint16, bool) {
	c, lx, lz, ok := t.locate(x, y, z)
	if !ok {
		return 0, false
	}
	return c.Block(lx, y, lz), true
}

// SetBlock writes a block; it fails when the chunk is not loaded or y is out of range.
func (t *ChunkTable) SetBlock(x, y, z int, b uint16) bool {
	c, lx, lz, ok := t.locate(x, y, z)
	if !ok {
		return false
	}
	c.SetBlock(lx, y, lz, b)
	return true
}

func (t *ChunkTable) Light(x, y, z int) (uint8, bool) {
	c, lx, lz, ok := t.locate(x, y, z)
	if !ok {
		return 0, false
	}
	return c.LightAt(lx, y, lz), true
}

func (t *ChunkTable) SetLight(x, y, z int, v uint8) bool {
	c, lx, lz, ok := t.locate(x, y, z)
	if !ok {
		return false
	}
	c.SetLight(lx, y, lz, v)
	return true
}

// FloorDiv and Mod assume b > 0.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
