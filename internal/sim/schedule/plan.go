package schedule

import (
	"fmt"
	"strings"
)

// Plan is the static partition of systems into batches. Systems inside one batch have pairwise
// disjoint write sets against each other's reads and writes and run in parallel; batches run
// one after another.
type Plan struct {
	systems []System
	access  []Access
	batches [][]int
}

// NewPlan places each system in the batch after the latest earlier system it conflicts with.
// Two conflicting systems therefore always run in declared order, and a system never waits on
// a batch it does not depend on.
func NewPlan(systems ...System) (*Plan, error) {
	p := &Plan{systems: systems, access: make([]Access, len(systems))}
	seen := map[string]bool{}
	level := make([]int, len(systems))
	for i, s := range systems {
		if s == nil {
			return nil, fmt.Errorf("schedule: system %d is nil", i)
		}
		name := s.Name()
		if name == "" || seen[name] {
			return nil, fmt.Errorf("schedule: duplicate or empty system name %q", name)
		}
		seen[name] = true
		p.access[i] = s.Access()

		lv := 0
		for j := 0; j < i; j++ {
			if p.access[i].Conflicts(p.access[j]) && level[j]+1 > lv {
				lv = level[j] + 1
			}
		}
		level[i] = lv
		for len(p.batches) <= lv {
			p.batches = append(p.batches, nil)
		}
		p.batches[lv] = append(p.batches[lv], i)
	}
	return p, nil
}

func (p *Plan) Systems() []System { return p.systems }

// Batches returns system indices per batch, in execution order.
func (p *Plan) Batches() [][]int { return p.batches }

// String renders the plan as "[a b] -> [c]".
func (p *Plan) String() string {
	parts := make([]string, 0, len(p.batches))
	for _, b := range p.batches {
		names := make([]string, 0, len(b))
		for _, i := range b {
			names = append(names, p.systems[i].Name())
		}
		parts = append(parts, "["+strings.Join(names, " ")+"]")
	}
	return strings.Join(parts, " -> ")
}
