package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"voxelgate.ai/internal/persistence/chunkdb"
	"voxelgate.ai/internal/sim/terrain"
	"voxelgate.ai/internal/sim/world"
)

func openDB(path string) *chunkdb.DB {
	path = strings.TrimSpace(path)
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -db")
		os.Exit(2)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := chunkdb.Open(path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db
}

func chunksCmd(args []string) {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	dbPath := fs.String("db", "./data/chunks.db", "chunk db path")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	db := openDB(*dbPath)
	defer db.Close()
	ctx := context.Background()

	n, err := db.Count(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	list, err := db.List(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range list {
		_ = enc.Encode(e)
	}
	fmt.Fprintf(os.Stderr, "%d of %d chunks\n", len(list), n)
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dbPath := fs.String("db", "./data/chunks.db", "chunk db path")
	cx := fs.Int("cx", 0, "chunk x")
	cz := fs.Int("cz", 0, "chunk z")
	_ = fs.Parse(args)

	db := openDB(*dbPath)
	defer db.Close()

	c, err := db.Load(context.Background(), world.ChunkKey{CX: int32(*cx), CZ: int32(*cz)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	writeHistogram(os.Stdout, c)
}

// writeHistogram prints how many of each block the chunk holds, most common first, and how
// many cells carry block light.
func writeHistogram(w io.Writer, c *world.Chunk) {
	counts := map[uint16]int{}
	for _, b := range c.Blocks {
		counts[b]++
	}
	ids := make([]uint16, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	var blocks terrain.Blocks
	fmt.Fprintf(w, "chunk %d,%d height=%d\n", c.Key.CX, c.Key.CZ, c.Height)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-10s %6d\n", blocks.Def(id).Name, counts[id])
	}
	lit := 0
	for _, l := range c.Light {
		if l > 0 {
			lit++
		}
	}
	fmt.Fprintf(w, "  lit cells  %6d\n", lit)
}
