package schedule

import (
	"math/bits"
	"strings"

	"voxelgate.ai/internal/sim/world"
)

// Mask is a 256-bit set of component ids.
type Mask [4]uint64

func MaskOf(ids ...world.ComponentID) Mask {
	var m Mask
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

func (m *Mask) Set(id world.ComponentID) {
	m[id/64] |= 1 << (id % 64)
}

func (m Mask) Has(id world.ComponentID) bool {
	return m[id/64]&(1<<(id%64)) != 0
}

// Intersects reports whether any bit is set in both masks.
func (m Mask) Intersects(o Mask) bool {
	return m[0]&o[0] != 0 || m[1]&o[1] != 0 || m[2]&o[2] != 0 || m[3]&o[3] != 0
}

func (m Mask) Or(o Mask) Mask {
	return Mask{m[0] | o[0], m[1] | o[1], m[2] | o[2], m[3] | o[3]}
}

func (m Mask) IsZero() bool { return m == Mask{} }

func (m Mask) Count() int {
	return bits.OnesCount64(m[0]) + bits.OnesCount64(m[1]) + bits.OnesCount64(m[2]) + bits.OnesCount64(m[3])
}

func (m Mask) String() string {
	var names []string
	for i := 0; i < 256; i++ {
		id := world.ComponentID(i)
		if m.Has(id) {
			names = append(names, id.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Access is what a system declares it touches.
type Access struct {
	Reads  Mask
	Writes Mask
}

// Conflicts reports whether the two systems may not run at the same time: one writes
// something the other reads or writes.
func (a Access) Conflicts(b Access) bool {
	return a.Writes.Intersects(b.Reads.Or(b.Writes)) || b.Writes.Intersects(a.Reads.Or(a.Writes))
}
