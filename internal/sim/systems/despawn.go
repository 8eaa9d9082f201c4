package systems

import (
	"github.com/Tnze/go-mc/chat"
	"go.uber.org/zap"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Despawn removes the entity of every connection that left. It runs last, after every other
// system has seen this tick's messages from that connection.
type Despawn struct{}

func NewDespawn() *Despawn { return &Despawn{} }

func (*Despawn) Name() string { return "despawn" }

func (*Despawn) Access() schedule.Access {
	return access(nil, []world.ComponentID{
		world.CompArena, world.CompPlayer, world.CompPosition,
		world.CompTracking, world.CompKeepAlive, world.CompView,
	})
}

func (*Despawn) Routes(m *bridge.Message) bool { return m.Kind == bridge.KindLeave }

func (*Despawn) Run(ctx *schedule.Context) error {
	w := ctx.World
	for _, m := range ctx.Inbox {
		p, ok := w.DespawnPlayer(m.Conn)
		if !ok {
			continue
		}
		w.Tracking.Each(func(e world.Entity, t *world.Tracking) {
			if _, seen := t.Visible[p.NetID]; !seen {
				return
			}
			delete(t.Visible, p.NetID)
			if obs, ok := w.Players.Get(e); ok {
				ctx.Out.Unicast(obs.Conn, &protocol.DestroyEntities{EntityIDs: []int32{p.NetID}})
			}
		})
		ctx.Out.BroadcastExcept(m.Conn, &protocol.ChatBroadcast{
			JSON: protocol.ChatJSON(chat.TranslateMsg("multiplayer.player.left", chat.Text(p.Name))),
		})
		ctx.Log.Info("player left",
			zap.Uint64("conn", uint64(m.Conn)),
			zap.String("name", p.Name),
			zap.Int32("net_id", p.NetID),
		)
	}
	return nil
}
