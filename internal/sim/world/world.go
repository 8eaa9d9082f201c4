// Package world is the simulation state: an entity arena with generational handles, one
// component store per component type, and the chunk table. It is owned by the tick scheduler
// and touched by nothing else.
package world

import (
	"voxelgate.ai/internal/session"
)

// Edit is a block change requested by a player and applied by the block system.
type Edit struct {
	Conn    session.ID
	X, Y, Z int
	Old     uint16
	Block   uint16
}

type World struct {
	Tick uint64

	Entities   Arena
	Players    *Store[Player]
	Positions  *Store[Position]
	Tracking   *Store[Tracking]
	KeepAlives *Store[KeepAlive]
	Views      *Store[View]
	Chunks     *ChunkTable

	// ChunkRequests are chunks some view wants that are not loaded yet; the loader system
	// hands them to the asynchronous loader.
	ChunkRequests map[ChunkKey]struct{}
	// Edits applied this tick, in arrival order; the lighting system relights and announces them.
	Edits []Edit
	// Relit are chunks whose light changed this tick; streaming re-sends them to viewers.
	Relit map[ChunkKey]struct{}

	byConn    map[session.ID]Entity
	nextNetID int32
}

func New(height int) *World {
	return &World{
		Players:       NewStore[Player](),
		Positions:     NewStore[Position](),
		Tracking:      NewStore[Tracking](),
		KeepAlives:    NewStore[KeepAlive](),
		Views:         NewStore[View](),
		Chunks:        NewChunkTable(height),
		ChunkRequests: map[ChunkKey]struct{}{},
		Relit:         map[ChunkKey]struct{}{},
		byConn:        map[session.ID]Entity{},
	}
}

// PlayerByConn returns the entity owned by a connection.
func (w *World) PlayerByConn(id session.ID) (Entity, bool) {
	e, ok := w.byConn[id]
	return e, ok
}

// SpawnPlayer creates the player entity of a connection. It refuses a second entity for the
// same connection, keeping the connection-to-entity mapping one to one.
func (w *World) SpawnPlayer(p Player, pos Position) (Entity, bool) {
	if _, exists := w.byConn[p.Conn]; exists {
		return 0, false
	}
	e := w.Entities.Create()
	w.nextNetID++
	p.NetID = w.nextNetID
	w.Players.Set(e, p)
	w.Positions.Set(e, pos)
	w.Tracking.Set(e, Tracking{Visible: map[int32]Entity{}, LastPos: pos.Pos, LastYaw: pos.Yaw})
	w.KeepAlives.Set(e, KeepAlive{SentTick: w.Tick})
	w.Views.Set(e, View{Loaded: map[ChunkKey]struct{}{}})
	w.byConn[p.Conn] = e
	return e, true
}

// DespawnPlayer removes the entity owned by a connection and every component it had.
func (w *World) DespawnPlayer(id session.ID) (Player, bool) {
	e, ok := w.byConn[id]
	if !ok {
		return Player{}, false
	}
	p, _ := w.Players.Get(e)
	out := *p
	w.Players.Remove(e)
	w.Positions.Remove(e)
	w.Tracking.Remove(e)
	w.KeepAlives.Remove(e)
	w.Views.Remove(e)
	w.Entities.Destroy(e)
	delete(w.byConn, id)
	return out, true
}

// PlayerCount is the number of live player entities.
func (w *World) PlayerCount() int { return len(w.byConn) }
