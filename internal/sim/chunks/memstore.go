package chunks

import (
	"context"
	"sync"

	"voxelgate.ai/internal/sim/world"
)

// MemStore keeps saved chunks in process memory. It is used when no database is configured,
// so edits survive a chunk being unloaded but not a restart.
type MemStore struct {
	mu sync.RWMutex
	m  map[world.ChunkKey]*world.Chunk
}

func NewMemStore() *MemStore {
	return &MemStore{m: map[world.ChunkKey]*world.Chunk{}}
}

func (s *MemStore) Load(_ context.Context, key world.ChunkKey) (*world.Chunk, error) {
	s.mu.RLock()
	c, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(c), nil
}

func (s *MemStore) Save(c *world.Chunk) {
	cp := Clone(c)
	s.mu.Lock()
	s.m[c.Key] = cp
	s.mu.Unlock()
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Clone copies a chunk's blocks and light.
func Clone(c *world.Chunk) *world.Chunk {
	cp := world.NewChunk(c.Key, c.Height)
	copy(cp.Blocks, c.Blocks)
	copy(cp.Light, c.Light)
	return cp
}
