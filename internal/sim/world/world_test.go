package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestArenaGenerations(t *testing.T) {
	var a Arena
	e1 := a.Create()
	if !a.Alive(e1) || a.Len() != 1 {
		t.Fatalf("fresh entity not alive")
	}
	if !a.Destroy(e1) || a.Destroy(e1) {
		t.Fatalf("destroy must succeed exactly once")
	}
	e2 := a.Create()
	if e2.Index() != e1.Index() {
		t.Fatalf("slot not reused: %d vs %d", e2.Index(), e1.Index())
	}
	if e2 == e1 || a.Alive(e1) || !a.Alive(e2) {
		t.Fatalf("stale handle still alive after reuse")
	}
	if a.Alive(0) {
		t.Fatalf("zero entity must never be alive")
	}
}

func TestStoreSwapRemove(t *testing.T) {
	var a Arena
	s := NewStore[int]()
	es := []Entity{a.Create(), a.Create(), a.Create()}
	for i, e := range es {
		s.Set(e, i*10)
	}
	if !s.Remove(es[0]) {
		t.Fatalf("Remove failed")
	}
	if s.Has(es[0]) || s.Len() != 2 {
		t.Fatalf("removed component still present")
	}
	for i, e := range es[1:] {
		v, ok := s.Get(e)
		if !ok || *v != (i+1)*10 {
			t.Fatalf("component of %d = %v, %v", e, v, ok)
		}
	}

	// A stale handle on a reused slot must not see the new owner's component.
	a.Destroy(es[1])
	s.Remove(es[1])
	fresh := a.Create()
	s.Set(fresh, 99)
	if _, ok := s.Get(es[1]); ok {
		t.Fatalf("stale handle resolved")
	}
	sum := 0
	s.Each(func(_ Entity, v *int) { sum += *v })
	if sum != 20+99 {
		t.Fatalf("Each sum = %d", sum)
	}
}

func TestSpawnPlayerIsOnePerConnection(t *testing.T) {
	w := New(32)
	e, ok := w.SpawnPlayer(Player{Name: "alice", Conn: 7}, Position{Pos: mgl64.Vec3{1, 2, 3}})
	if !ok {
		t.Fatalf("first spawn refused")
	}
	if _, ok := w.SpawnPlayer(Player{Name: "alice", Conn: 7}, Position{}); ok {
		t.Fatalf("second spawn for the same connection accepted")
	}
	if got, _ := w.PlayerByConn(7); got != e || w.PlayerCount() != 1 {
		t.Fatalf("PlayerByConn = %d, count %d", got, w.PlayerCount())
	}
	for name, has := range map[string]bool{
		"position":  w.Positions.Has(e),
		"tracking":  w.Tracking.Has(e),
		"keepalive": w.KeepAlives.Has(e),
		"view":      w.Views.Has(e),
	} {
		if !has {
			t.Fatalf("spawned player lacks %s", name)
		}
	}

	p, ok := w.DespawnPlayer(7)
	if !ok || p.Name != "alice" || p.NetID == 0 {
		t.Fatalf("DespawnPlayer = %+v, %v", p, ok)
	}
	if w.Entities.Alive(e) || w.Positions.Has(e) || w.PlayerCount() != 0 {
		t.Fatalf("despawned entity left state behind")
	}
	if _, ok := w.DespawnPlayer(7); ok {
		t.Fatalf("second despawn succeeded")
	}
}

func TestChunkTableWorldCoordinates(t *testing.T) {
	tbl := NewChunkTable(16)
	tbl.Put(NewChunk(ChunkKey{CX: -1, CZ: 0}, 16))
	if !tbl.SetBlock(-1, 3, 15, 5) {
		t.Fatalf("SetBlock in loaded chunk failed")
	}
	if b, ok := tbl.Block(-1, 3, 15); !ok || b != 5 {
		t.Fatalf("Block = %d, %v", b, ok)
	}
	c, _ := tbl.Get(ChunkKey{CX: -1})
	if c.Block(15, 3, 15) != 5 || !c.Dirty() {
		t.Fatalf("local coordinates wrong or chunk not dirty")
	}
	if _, ok := tbl.Block(0, 3, 0); ok {
		t.Fatalf("unloaded chunk reported loaded")
	}
	if got := ChunkOf(-17, 16); got != (ChunkKey{CX: -2, CZ: 1}) {
		t.Fatalf("ChunkOf = %+v", got)
	}
}

func TestPackedLight(t *testing.T) {
	c := NewChunk(ChunkKey{}, 4)
	c.SetLight(0, 0, 0, 15)
	c.SetLight(1, 0, 0, 7)
	c.SetLight(3, 2, 9, 1)
	got := UnpackLight(c.PackedLight(), len(c.Light))
	for i := range c.Light {
		if got[i] != c.Light[i] {
			t.Fatalf("light[%d] = %d, want %d", i, got[i], c.Light[i])
		}
	}
}
