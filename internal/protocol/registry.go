package protocol

type packetKey struct {
	state State
	dir   Direction
	id    int32
}

var registry = map[packetKey]func() Packet{}

func register(ctors ...func() Packet) {
	for _, ctor := range ctors {
		p := ctor()
		k := packetKey{state: p.State(), dir: p.Direction(), id: p.ID()}
		if _, dup := registry[k]; dup {
			panic("protocol: duplicate packet registration")
		}
		registry[k] = ctor
	}
}

func init() {
	register(
		func() Packet { return &Handshake{} },

		func() Packet { return &StatusRequest{} },
		func() Packet { return &StatusResponse{} },
		func() Packet { return &Ping{} },
		func() Packet { return &Pong{} },

		func() Packet { return &LoginStart{} },
		func() Packet { return &EncryptionResponse{} },
		func() Packet { return &LoginDisconnect{} },
		func() Packet { return &EncryptionRequest{} },
		func() Packet { return &LoginSuccess{} },
		func() Packet { return &SetCompression{} },

		func() Packet { return &KeepAliveResponse{} },
		func() Packet { return &ChatMessage{} },
		func() Packet { return &PlayerPosition{} },
		func() Packet { return &BlockEdit{} },
		func() Packet { return &ClientQuit{} },
		func() Packet { return &KeepAlive{} },
		func() Packet { return &JoinGame{} },
		func() Packet { return &ChatBroadcast{} },
		func() Packet { return &SpawnPlayer{} },
		func() Packet { return &EntityTeleport{} },
		func() Packet { return &DestroyEntities{} },
		func() Packet { return &ChunkData{} },
		func() Packet { return &UnloadChunk{} },
		func() Packet { return &BlockChange{} },
		func() Packet { return &SyncPosition{} },
		func() Packet { return &Disconnect{} },
	)
}

// New returns an empty packet for the discriminant, or false when id is not valid in state for dir.
func New(state State, dir Direction, id int32) (Packet, bool) {
	ctor, ok := registry[packetKey{state: state, dir: dir, id: id}]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
