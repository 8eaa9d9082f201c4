package systems

import (
	"go.uber.org/zap"

	"voxelgate.ai/internal/sim/chunks"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Loading moves chunks between the world and the asynchronous loader: finished loads enter the
// chunk table, outstanding requests are handed over, chunks no player can see are saved if
// dirty and dropped, and dirty chunks are saved periodically.
type Loading struct {
	cfg     Config
	src     ChunkSource
	results []chunks.Result
}

func NewLoading(cfg Config, src ChunkSource) *Loading {
	cfg.normalize()
	return &Loading{cfg: cfg, src: src}
}

func (*Loading) Name() string { return "loader" }

func (*Loading) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompView},
		[]world.ComponentID{world.CompChunks, world.CompChunkRequests},
	)
}

func (s *Loading) Run(ctx *schedule.Context) error {
	w := ctx.World

	s.results = s.src.Completed(s.results[:0])
	for i, r := range s.results {
		if _, ok := w.Chunks.Get(r.Key); !ok && r.Chunk != nil {
			w.Chunks.Put(r.Chunk)
		}
		s.results[i] = chunks.Result{}
	}

	for k := range w.ChunkRequests {
		if _, ok := w.Chunks.Get(k); ok {
			delete(w.ChunkRequests, k)
			continue
		}
		if !s.src.Request(k) {
			break
		}
		delete(w.ChunkRequests, k)
	}

	if ctx.Tick%s.cfg.UnloadEvery == 0 {
		if n := s.unload(w); n > 0 {
			ctx.Log.Debug("unloaded chunks", zap.Int("count", n), zap.Int("loaded", w.Chunks.Len()))
		}
	}
	if ctx.Tick > 0 && ctx.Tick%s.cfg.AutosaveEvery == 0 {
		s.SaveDirty(w)
	}
	return nil
}

// unload drops every chunk outside all players' view squares.
func (s *Loading) unload(w *world.World) int {
	n := 0
	for _, k := range w.Chunks.Keys() {
		if s.wanted(w, k) {
			continue
		}
		c, _ := w.Chunks.Remove(k)
		if c.Dirty() {
			s.src.Save(c)
		}
		n++
	}
	return n
}

func (s *Loading) wanted(w *world.World, k world.ChunkKey) bool {
	found := false
	w.Views.Each(func(_ world.Entity, v *world.View) {
		if !found && v.Placed && InView(v.Center, k, s.cfg.ViewDistance) {
			found = true
		}
	})
	return found
}

// SaveDirty hands every changed chunk to the store and marks it clean. The server calls it
// once more after the last tick.
func (s *Loading) SaveDirty(w *world.World) int {
	n := 0
	for _, k := range w.Chunks.Keys() {
		c, _ := w.Chunks.Get(k)
		if c.Dirty() {
			s.src.Save(c)
			c.MarkClean()
			n++
		}
	}
	return n
}
