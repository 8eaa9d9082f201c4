package main

import (
	"bytes"
	"strings"
	"testing"

	"voxelgate.ai/internal/server"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/terrain"
	"voxelgate.ai/internal/sim/world"
)

func TestWriteHistogram(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{CX: 1, CZ: 2}, 16)
	for x := 0; x < world.ChunkSize; x++ {
		for z := 0; z < world.ChunkSize; z++ {
			c.SetBlock(x, 0, z, terrain.Stone)
		}
	}
	c.SetBlock(3, 1, 3, terrain.Torch)
	c.SetLight(3, 1, 3, 14)

	var out bytes.Buffer
	writeHistogram(&out, c)
	s := out.String()
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) != 5 || lines[0] != "chunk 1,2 height=16" {
		t.Fatalf("output:\n%s", s)
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[1]), "air") || !strings.HasPrefix(strings.TrimSpace(lines[3]), "torch") {
		t.Fatalf("order:\n%s", s)
	}
	if !strings.HasSuffix(lines[4], " 1") {
		t.Fatalf("lit cells:\n%s", s)
	}
}

func TestWritePlayers(t *testing.T) {
	var out bytes.Buffer
	writePlayers(&out, server.State{
		Tick:     9,
		Players:  1,
		Sessions: 1,
		Online:   []session.Summary{{Conn: 4, Name: "Alice", Remote: "127.0.0.1:5000", State: "play"}},
	})
	s := out.String()
	if !strings.Contains(s, "Alice") || !strings.Contains(s, "1 sessions, 1 players, tick 9") {
		t.Fatalf("output:\n%s", s)
	}
}
