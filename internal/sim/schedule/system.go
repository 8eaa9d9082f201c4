package schedule

import (
	"go.uber.org/zap"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/session"
	"voxelgate.ai/internal/sim/world"
)

// System is one unit of per-tick world update. Access must be constant for the lifetime of
// the process; the plan is computed from it once.
type System interface {
	Name() string
	Access() Access
	Run(ctx *Context) error
}

// Router is implemented by systems that consume inbound messages. During the drain each
// message goes to the first system, in declared order, whose Routes returns true.
type Router interface {
	Routes(m *bridge.Message) bool
}

// Applier mutates the world directly for messages no system routes, during the drain and
// before any system runs.
type Applier interface {
	Apply(ctx *Context, m bridge.Message) error
}

// Context is what one system sees during one tick. Each system gets its own Context, so Inbox
// and Out are private to it; World is shared under the plan's exclusivity rules.
type Context struct {
	Tick     uint64
	World    *world.World
	Sessions session.Snapshot
	Inbox    []bridge.Message
	Out      *bridge.Outbox
	Log      *zap.Logger
}
