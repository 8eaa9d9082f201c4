package systems

import (
	"strings"

	"github.com/Tnze/go-mc/chat"

	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/schedule"
	"voxelgate.ai/internal/sim/world"
)

// Chat broadcasts every chat message to every player, in drain order.
type Chat struct{}

func NewChat() *Chat { return &Chat{} }

func (*Chat) Name() string { return "chat" }

func (*Chat) Access() schedule.Access {
	return access([]world.ComponentID{world.CompArena, world.CompPlayer}, nil)
}

func (*Chat) Routes(m *bridge.Message) bool {
	if m.Kind != bridge.KindPacket {
		return false
	}
	_, ok := m.Packet.(*protocol.ChatMessage)
	return ok
}

func (*Chat) Run(ctx *schedule.Context) error {
	for _, m := range ctx.Inbox {
		text := strings.TrimSpace(m.Packet.(*protocol.ChatMessage).Text)
		if text == "" {
			continue
		}
		_, p, ok := playerOf(ctx.World, m.Conn)
		if !ok {
			continue
		}
		ctx.Out.Broadcast(&protocol.ChatBroadcast{
			JSON:   protocol.ChatJSON(chat.TranslateMsg("chat.type.text", chat.Text(p.Name), chat.Text(text))),
			Sender: p.ID,
		})
	}
	return nil
}
