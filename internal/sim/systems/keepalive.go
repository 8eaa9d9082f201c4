package systems

import (
	"go.uber.org/zap"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// KeepAlive pings every player at a fixed interval and kicks those that leave a ping
// unanswered for the timeout. Only a reply carrying the outstanding id counts.
type KeepAlive struct {
	cfg Config
}

func NewKeepAlive(cfg Config) *KeepAlive {
	cfg.normalize()
	return &KeepAlive{cfg: cfg}
}

func (*KeepAlive) Name() string { return "keepalive" }

func (*KeepAlive) Access() schedule.Access {
	return access(
		[]world.ComponentID{world.CompArena, world.CompPlayer},
		[]world.ComponentID{world.CompKeepAlive},
	)
}

func (*KeepAlive) Routes(m *bridge.Message) bool {
	if m.Kind != bridge.KindPacket {
		return false
	}
	_, ok := m.Packet.(*protocol.KeepAliveResponse)
	return ok
}

func (s *KeepAlive) Run(ctx *schedule.Context) error {
	w := ctx.World
	for _, m := range ctx.Inbox {
		e, ok := w.PlayerByConn(m.Conn)
		if !ok {
			continue
		}
		ka, ok := w.KeepAlives.Get(e)
		if !ok {
			continue
		}
		if id := m.Packet.(*protocol.KeepAliveResponse).KeepAliveID; ka.PendingID != 0 && id == ka.PendingID {
			ka.PendingID = 0
		}
	}

	w.KeepAlives.Each(func(e world.Entity, ka *world.KeepAlive) {
		if ka.TimedOut {
			return
		}
		p, ok := w.Players.Get(e)
		if !ok {
			return
		}
		age := ctx.Tick - ka.SentTick
		switch {
		case ka.PendingID != 0 && age >= s.cfg.KeepAliveTimeout:
			ka.TimedOut = true
			ctx.Log.Debug("keep-alive timed out", zap.Uint64("conn", uint64(p.Conn)), zap.Uint64("ticks", age))
			ctx.Out.Kick(p.Conn, protocol.ReasonTimedOut)
		case ka.PendingID == 0 && age >= s.cfg.KeepAliveInterval:
			ka.PendingID = int64(ctx.Tick) + 1
			ka.SentTick = ctx.Tick
			ctx.Out.Unicast(p.Conn, &protocol.KeepAlive{KeepAliveID: ka.PendingID})
		}
	})
	return nil
}
