// Package systems holds the world-update systems registered with the tick scheduler, and the
// lifecycle applier that creates player entities during the drain.
//
// Declared order matters: the scheduler keeps it for every pair of systems whose access
// conflicts, so a system reading what another writes sees this tick's result.
package systems

import (
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/chunks"
	"voxelgate.ai/internal/sim/lighting"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

type Config struct {
	TickRateHz     int
	ViewDistance   int // chunks
	Height         int
	Seed           int64
	MaxMovePerTick float64 // blocks per position packet
	Reach          float64 // blocks from the eye to an edited block's centre

	KeepAliveInterval uint64 // ticks
	KeepAliveTimeout  uint64 // ticks

	ChunksPerTick int    // new chunks sent to one player per tick
	UnloadEvery   uint64 // ticks between unload sweeps
	AutosaveEvery uint64 // ticks between saves of dirty chunks
}

func (c *Config) normalize() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ViewDistance <= 0 {
		c.ViewDistance = 4
	}
	if c.Height <= 0 {
		c.Height = 64
	}
	if c.MaxMovePerTick <= 0 {
		c.MaxMovePerTick = 10
	}
	if c.Reach <= 0 {
		c.Reach = 6
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 200
	}
	if c.KeepAliveTimeout <= c.KeepAliveInterval {
		c.KeepAliveTimeout = 3 * c.KeepAliveInterval
	}
	if c.ChunksPerTick <= 0 {
		c.ChunksPerTick = 4
	}
	if c.UnloadEvery == 0 {
		c.UnloadEvery = 20
	}
	if c.AutosaveEvery == 0 {
		c.AutosaveEvery = 1200
	}
}

// Terrain places new players.
type Terrain interface {
	SurfaceY(x, z int) int
}

// Blocks is the block table as the systems see it.
type Blocks interface {
	lighting.Props
	Valid(id uint16) bool
	Solid(id uint16) bool
}

// ChunkSource is the asynchronous chunk loader.
type ChunkSource interface {
	Request(key world.ChunkKey) bool
	Completed(dst []chunks.Result) []chunks.Result
	Save(c *world.Chunk)
}

// Set is the full registration: the applier plus the systems in declared order.
type Set struct {
	Lifecycle *Lifecycle
	Loading   *Loading
	Systems   []schedule.System
}

func New(cfg Config, terrain Terrain, blocks Blocks, src ChunkSource) *Set {
	cfg.normalize()
	loading := NewLoading(cfg, src)
	return &Set{
		Lifecycle: NewLifecycle(cfg, terrain),
		Loading:   loading,
		Systems: []schedule.System{
			NewActions(cfg, blocks),
			NewChat(),
			NewLighting(blocks),
			NewStreaming(cfg),
			loading,
			NewKeepAlive(cfg),
			NewTracking(cfg),
			NewDespawn(),
		},
	}
}

// Plan builds the schedule for the set.
func (s *Set) Plan() (*schedule.Plan, error) {
	return schedule.NewPlan(s.Systems...)
}

func access(reads, writes []world.ComponentID) schedule.Access {
	return schedule.Access{Reads: schedule.MaskOf(reads...), Writes: schedule.MaskOf(writes...)}
}

// playerOf resolves a connection to its live player entity.
func playerOf(w *world.World, conn session.ID) (world.Entity, *world.Player, bool) {
	e, ok := w.PlayerByConn(conn)
	if !ok {
		return 0, nil, false
	}
	p, ok := w.Players.Get(e)
	if !ok {
		return 0, nil, false
	}
	return e, p, true
}
