package world

// Entity is a stable handle into the arena: the low 32 bits are the slot index, the high 32
// bits the slot's generation. A handle whose slot has been reused no longer resolves.
// The zero Entity is never issued.
type Entity uint64

func makeEntity(index, gen uint32) Entity { return Entity(uint64(gen)<<32 | uint64(index)) }

func (e Entity) Index() uint32      { return uint32(e) }
func (e Entity) Generation() uint32 { return uint32(e >> 32) }

// Arena allocates entity handles and recycles freed slots with a bumped generation.
type Arena struct {
	gens  []uint32
	alive []bool
	free  []uint32
	count int
}

func (a *Arena) Create() Entity {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.gens))
		a.gens = append(a.gens, 0)
		a.alive = append(a.alive, false)
	}
	a.gens[idx]++
	if a.gens[idx] == 0 {
		a.gens[idx] = 1
	}
	a.alive[idx] = true
	a.count++
	return makeEntity(idx, a.gens[idx])
}

// Alive reports whether e still names a live slot.
func (a *Arena) Alive(e Entity) bool {
	idx := e.Index()
	return e != 0 && int(idx) < len(a.gens) && a.alive[idx] && a.gens[idx] == e.Generation()
}

// Destroy frees e. It returns false if e was already dead.
func (a *Arena) Destroy(e Entity) bool {
	if !a.Alive(e) {
		return false
	}
	idx := e.Index()
	a.alive[idx] = false
	a.free = append(a.free, idx)
	a.count--
	return true
}

func (a *Arena) Len() int { return a.count }
