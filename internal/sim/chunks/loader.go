// Package chunks loads chunk columns off the tick goroutine. A request is served from the
// store when the chunk was saved before, and generated (then lit) otherwise. The tick side only
// ever calls the non-blocking Request and Completed.
package chunks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelgate.ai/internal/sim/lighting"
	"voxelgate.ai/internal/sim/world"
)

var ErrNotFound = errors.New("chunk not found")

// Store persists chunk columns.
type Store interface {
	Load(ctx context.Context, key world.ChunkKey) (*world.Chunk, error)
	// Save queues a copy of c and returns immediately.
	Save(c *world.Chunk)
}

type Generator interface {
	Generate(key world.ChunkKey) *world.Chunk
}

type Source uint8

const (
	FromStore Source = iota + 1
	FromGenerator
)

func (s Source) String() string {
	switch s {
	case FromStore:
		return "store"
	case FromGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

type Result struct {
	Key    world.ChunkKey
	Chunk  *world.Chunk
	Source Source
}

type Options struct {
	Store     Store // nil: generate everything
	Generator Generator
	Blocks    lighting.Props
	Height    int
	Workers   int
	Queue     int
	Logger    *zap.Logger
}

type Stats struct {
	Requested uint64 `json:"requested"`
	Loaded    uint64 `json:"loaded"`
	Generated uint64 `json:"generated"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	InFlight  int    `json:"in_flight"`
}

type Loader struct {
	opts Options
	reqs chan world.ChunkKey
	log  *zap.Logger

	mu       sync.Mutex
	inflight map[world.ChunkKey]struct{}
	done     []Result

	requested atomic.Uint64
	loaded    atomic.Uint64
	generated atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

func NewLoader(opts Options) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loader{
		opts:     opts,
		reqs:     make(chan world.ChunkKey, opts.Queue),
		log:      opts.Logger,
		inflight: map[world.ChunkKey]struct{}{},
	}
}

// Request asks for key to be loaded. It never blocks: false means the queue is full and the
// caller should ask again on a later tick. A key already in flight is accepted once.
func (l *Loader) Request(key world.ChunkKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inflight[key]; ok {
		return true
	}
	select {
	case l.reqs <- key:
		l.inflight[key] = struct{}{}
		l.requested.Add(1)
		return true
	default:
		l.rejected.Add(1)
		return false
	}
}

// Pending reports whether key was requested and has not been collected yet.
func (l *Loader) Pending(key world.ChunkKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[key]
	return ok
}

// Completed appends every finished load to dst and forgets it.
func (l *Loader) Completed(dst []Result) []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.done {
		delete(l.inflight, r.Key)
	}
	dst = append(dst, l.done...)
	for i := range l.done {
		l.done[i] = Result{}
	}
	l.done = l.done[:0]
	return dst
}

// Save hands a chunk to the store, if there is one.
func (l *Loader) Save(c *world.Chunk) {
	if l.opts.Store != nil && c != nil {
		l.opts.Store.Save(c)
	}
}

func (l *Loader) Stats() Stats {
	l.mu.Lock()
	n := len(l.inflight)
	l.mu.Unlock()
	return Stats{
		Requested: l.requested.Load(),
		Loaded:    l.loaded.Load(),
		Generated: l.generated.Load(),
		Failed:    l.failed.Load(),
		Rejected:  l.rejected.Load(),
		InFlight:  n,
	}
}

// Run serves requests until ctx ends.
func (l *Loader) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < l.opts.Workers; i++ {
		g.Go(func() error {
			light := lighting.New(l.opts.Blocks)
			for {
				select {
				case <-ctx.Done():
					return nil
				case key := <-l.reqs:
					r := l.load(ctx, light, key)
					l.mu.Lock()
					l.done = append(l.done, r)
					l.mu.Unlock()
				}
			}
		})
	}
	return g.Wait()
}

func (l *Loader) load(ctx context.Context, light *lighting.Engine, key world.ChunkKey) Result {
	if l.opts.Store != nil {
		c, err := l.opts.Store.Load(ctx, key)
		switch {
		case err == nil && c.Height == l.opts.Height:
			l.loaded.Add(1)
			c.MarkClean()
			return Result{Key: key, Chunk: c, Source: FromStore}
		case err == nil:
			l.failed.Add(1)
			l.log.Warn("stored chunk has wrong height; regenerating",
				zap.Int32("cx", key.CX), zap.Int32("cz", key.CZ), zap.Int("height", c.Height))
		case !errors.Is(err, ErrNotFound):
			l.failed.Add(1)
			l.log.Warn("chunk load failed; regenerating",
				zap.Int32("cx", key.CX), zap.Int32("cz", key.CZ), zap.Error(err))
		}
	}
	c := l.opts.Generator.Generate(key)
	light.RelightChunk(c)
	c.MarkClean()
	l.generated.Add(1)
	return Result{Key: key, Chunk: c, Source: FromGenerator}
}
