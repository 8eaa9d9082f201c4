package main

import (
	"errors"
	"fmt"
	"io"

	"voxelgate.ai/internal/persistence/journal"
)

var errDone = errors.New("past the last requested tick")

// summary accumulates journal entries. Ticks restart from 0 after a server restart, which
// shows up as a gap.
type summary struct {
	from, to uint64
	slowMS   float64
	out      io.Writer

	files    int
	ticks    uint64
	first    uint64
	last     uint64
	seen     bool
	gaps     int
	overruns int
	maxStep  float64
	maxTick  uint64
	sumStep  float64

	joins, leaves, packets int
	shed                   int
	peakPlayers            int
	peakChunks             int
}

func newSummary(from, to uint64, slowMS float64, out io.Writer) *summary {
	return &summary{from: from, to: to, slowMS: slowMS, out: out}
}

func (s *summary) add(e journal.TickEntry) error {
	if e.Tick < s.from {
		return nil
	}
	if s.to != 0 && e.Tick > s.to {
		return errDone
	}
	if s.seen && e.Tick != s.last+1 {
		s.gaps++
		fmt.Fprintf(s.out, "gap: tick %d follows %d\n", e.Tick, s.last)
	}
	if !s.seen {
		s.first = e.Tick
		s.seen = true
	}
	s.last = e.Tick
	s.ticks++

	if e.Overrun {
		s.overruns++
	}
	s.sumStep += e.StepMillis
	if e.StepMillis > s.maxStep {
		s.maxStep = e.StepMillis
		s.maxTick = e.Tick
	}
	if s.slowMS > 0 && e.StepMillis > s.slowMS {
		fmt.Fprintf(s.out, "slow: tick %d step=%.3fms drained=%d players=%d\n", e.Tick, e.StepMillis, e.Drained, e.Players)
	}
	s.joins += e.Joins
	s.leaves += e.Leaves
	s.packets += e.Packets
	s.shed += e.Shed
	s.peakPlayers = max(s.peakPlayers, e.Players)
	s.peakChunks = max(s.peakChunks, e.Chunks)
	return nil
}

func (s *summary) print(w io.Writer) {
	if s.ticks == 0 {
		fmt.Fprintln(w, "no ticks in range")
		return
	}
	fmt.Fprintf(w, "ticks %d..%d: %d entries from %d files, %d gaps\n", s.first, s.last, s.ticks, s.files, s.gaps)
	fmt.Fprintf(w, "step: avg=%.3fms max=%.3fms (tick %d) overruns=%d\n",
		s.sumStep/float64(s.ticks), s.maxStep, s.maxTick, s.overruns)
	fmt.Fprintf(w, "load: joins=%d leaves=%d packets=%d shed=%d peak_players=%d peak_chunks=%d\n",
		s.joins, s.leaves, s.packets, s.shed, s.peakPlayers, s.peakChunks)
}
