package systems

import (
	"github.com/Tnze/go-mc/chat"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Lifecycle creates the player entity when a Join is drained. It runs inline during the drain,
// so packets the same connection sent after its Join already find the entity.
type Lifecycle struct {
	cfg     Config
	terrain Terrain
}

func NewLifecycle(cfg Config, terrain Terrain) *Lifecycle {
	cfg.normalize()
	return &Lifecycle{cfg: cfg, terrain: terrain}
}

func (l *Lifecycle) Apply(ctx *schedule.Context, m bridge.Message) error {
	switch m.Kind {
	case bridge.KindJoin:
		l.join(ctx, m)
	default:
		if ctx.Log.Core().Enabled(zap.DebugLevel) {
			ctx.Log.Debug("unrouted inbound message",
				zap.Uint64("conn", uint64(m.Conn)), zap.Stringer("kind", m.Kind))
		}
	}
	return nil
}

// Spawn is where new players appear.
func (l *Lifecycle) Spawn() mgl64.Vec3 {
	return mgl64.Vec3{0.5, float64(l.terrain.SurfaceY(0, 0)), 0.5}
}

func (l *Lifecycle) join(ctx *schedule.Context, m bridge.Message) {
	w := ctx.World
	spawn := l.Spawn()
	e, ok := w.SpawnPlayer(
		world.Player{ID: m.Profile.ID, Name: m.Profile.Name, Conn: m.Conn},
		world.Position{Pos: spawn},
	)
	if !ok {
		ctx.Log.Warn("join for a connection that already has an entity", zap.Uint64("conn", uint64(m.Conn)))
		return
	}
	p, _ := w.Players.Get(e)
	if m.Handle != nil {
		m.Handle.SetEntity(uint64(e))
	}

	ctx.Out.Unicast(m.Conn, &protocol.JoinGame{
		EntityID:     p.NetID,
		TickRateHz:   int32(l.cfg.TickRateHz),
		ViewDistance: int32(l.cfg.ViewDistance),
		Height:       int32(l.cfg.Height),
		Seed:         l.cfg.Seed,
	})
	ctx.Out.Unicast(m.Conn, &protocol.SyncPosition{X: spawn.X(), Y: spawn.Y(), Z: spawn.Z()})
	ctx.Out.Broadcast(&protocol.ChatBroadcast{
		JSON: protocol.ChatJSON(chat.TranslateMsg("multiplayer.player.joined", chat.Text(p.Name))),
	})
	ctx.Log.Info("player joined",
		zap.Uint64("conn", uint64(m.Conn)),
		zap.String("name", p.Name),
		zap.Stringer("uuid", p.ID),
		zap.Int32("net_id", p.NetID),
	)
}
