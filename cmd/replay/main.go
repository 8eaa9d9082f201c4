// Command replay walks a tick journal and reports how the tick loop behaved: gaps, overruns,
// step times and load.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"voxelgate.ai/internal/persistence/journal"
)

func main() {
	var (
		dir      = flag.String("journal", "./data/journal", "tick journal directory")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include (inclusive, optional)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (inclusive, optional)")
		slowMS   = flag.Float64("slow_ms", 0, "print every tick whose step took longer (0: none)")
	)
	flag.Parse()

	files, err := journal.Files(*dir, "ticks")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *dir)
		os.Exit(1)
	}

	s := newSummary(*fromTick, *toTick, *slowMS, os.Stdout)
	for _, path := range files {
		err := journal.ReadTicks(path, s.add)
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		s.files++
	}
	s.print(os.Stdout)
}
