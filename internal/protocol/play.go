package protocol

import "github.com/google/uuid"

// Play packets. Payload layouts here are the minimal ones the server core needs for routing;
// gameplay-specific encodings live with their systems.

const (
	MaxChunkBlocksLen = 1 << 20
	MaxEntityBatch    = 1024
)

// --- serverbound ---

type KeepAliveResponse struct {
	KeepAliveID int64
}

func (*KeepAliveResponse) ID() int32            { return 0x00 }
func (*KeepAliveResponse) State() State         { return StatePlay }
func (*KeepAliveResponse) Direction() Direction { return Serverbound }
func (p *KeepAliveResponse) Encode(w *Writer)   { w.Int64(p.KeepAliveID) }
func (p *KeepAliveResponse) Decode(r *Reader)   { p.KeepAliveID = r.Int64() }

type ChatMessage struct {
	Text string
}

func (*ChatMessage) ID() int32            { return 0x01 }
func (*ChatMessage) State() State         { return StatePlay }
func (*ChatMessage) Direction() Direction { return Serverbound }
func (p *ChatMessage) Encode(w *Writer)   { w.String(p.Text) }
func (p *ChatMessage) Decode(r *Reader)   { p.Text = r.String(MaxChatLen) }

type PlayerPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*PlayerPosition) ID() int32            { return 0x02 }
func (*PlayerPosition) State() State         { return StatePlay }
func (*PlayerPosition) Direction() Direction { return Serverbound }

func (p *PlayerPosition) Encode(w *Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
	w.Bool(p.OnGround)
}

func (p *PlayerPosition) Decode(r *Reader) {
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
	p.OnGround = r.Bool()
}

// BlockEdit asks to set the block at a position. Block 0 digs.
type BlockEdit struct {
	X, Y, Z int32
	Block   uint16
}

func (*BlockEdit) ID() int32            { return 0x03 }
func (*BlockEdit) State() State         { return StatePlay }
func (*BlockEdit) Direction() Direction { return Serverbound }

func (p *BlockEdit) Encode(w *Writer) {
	w.Int32(p.X)
	w.Int32(p.Y)
	w.Int32(p.Z)
	w.Uint16(p.Block)
}

func (p *BlockEdit) Decode(r *Reader) {
	p.X = r.Int32()
	p.Y = r.Int32()
	p.Z = r.Int32()
	p.Block = r.Uint16()
}

// ClientQuit is an explicit, graceful disconnect.
type ClientQuit struct{}

func (*ClientQuit) ID() int32            { return 0x04 }
func (*ClientQuit) State() State         { return StatePlay }
func (*ClientQuit) Direction() Direction { return Serverbound }
func (*ClientQuit) Encode(*Writer)       {}
func (*ClientQuit) Decode(*Reader)       {}

// --- clientbound ---

type KeepAlive struct {
	KeepAliveID int64
}

func (*KeepAlive) ID() int32            { return 0x00 }
func (*KeepAlive) State() State         { return StatePlay }
func (*KeepAlive) Direction() Direction { return Clientbound }
func (p *KeepAlive) Encode(w *Writer)   { w.Int64(p.KeepAliveID) }
func (p *KeepAlive) Decode(r *Reader)   { p.KeepAliveID = r.Int64() }

type JoinGame struct {
	EntityID     int32
	TickRateHz   int32
	ViewDistance int32
	Height       int32
	Seed         int64
}

func (*JoinGame) ID() int32            { return 0x01 }
func (*JoinGame) State() State         { return StatePlay }
func (*JoinGame) Direction() Direction { return Clientbound }

func (p *JoinGame) Encode(w *Writer) {
	w.Int32(p.EntityID)
	w.VarInt(p.TickRateHz)
	w.VarInt(p.ViewDistance)
	w.VarInt(p.Height)
	w.Int64(p.Seed)
}

func (p *JoinGame) Decode(r *Reader) {
	p.EntityID = r.Int32()
	p.TickRateHz = r.VarInt()
	p.ViewDistance = r.VarInt()
	p.Height = r.VarInt()
	p.Seed = r.Int64()
}

type ChatBroadcast struct {
	JSON   string
	Sender uuid.UUID
}

func (*ChatBroadcast) ID() int32            { return 0x02 }
func (*ChatBroadcast) State() State         { return StatePlay }
func (*ChatBroadcast) Direction() Direction { return Clientbound }

func (p *ChatBroadcast) Encode(w *Writer) {
	w.String(p.JSON)
	w.UUID(p.Sender)
}

func (p *ChatBroadcast) Decode(r *Reader) {
	p.JSON = r.String(MaxReasonLen)
	p.Sender = r.UUID()
}

type SpawnPlayer struct {
	EntityID   int32
	UUID       uuid.UUID
	Name       string
	X, Y, Z    float64
	Yaw, Pitch float32
}

func (*SpawnPlayer) ID() int32            { return 0x03 }
func (*SpawnPlayer) State() State         { return StatePlay }
func (*SpawnPlayer) Direction() Direction { return Clientbound }

func (p *SpawnPlayer) Encode(w *Writer) {
	w.Int32(p.EntityID)
	w.UUID(p.UUID)
	w.String(p.Name)
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
}

func (p *SpawnPlayer) Decode(r *Reader) {
	p.EntityID = r.Int32()
	p.UUID = r.UUID()
	p.Name = r.String(MaxUsernameLen)
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
}

type EntityTeleport struct {
	EntityID   int32
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*EntityTeleport) ID() int32            { return 0x04 }
func (*EntityTeleport) State() State         { return StatePlay }
func (*EntityTeleport) Direction() Direction { return Clientbound }

func (p *EntityTeleport) Encode(w *Writer) {
	w.Int32(p.EntityID)
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
	w.Bool(p.OnGround)
}

func (p *EntityTeleport) Decode(r *Reader) {
	p.EntityID = r.Int32()
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
	p.OnGround = r.Bool()
}

type DestroyEntities struct {
	EntityIDs []int32
}

func (*DestroyEntities) ID() int32            { return 0x05 }
func (*DestroyEntities) State() State         { return StatePlay }
func (*DestroyEntities) Direction() Direction { return Clientbound }

func (p *DestroyEntities) Encode(w *Writer) {
	w.VarInt(int32(len(p.EntityIDs)))
	for _, id := range p.EntityIDs {
		w.Int32(id)
	}
}

func (p *DestroyEntities) Decode(r *Reader) {
	n := r.VarInt()
	if n < 0 || n > MaxEntityBatch {
		r.fail(ErrFieldTooLarge)
		return
	}
	p.EntityIDs = make([]int32, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.EntityIDs = append(p.EntityIDs, r.Int32())
	}
}

// ChunkData carries one chunk column: run-length encoded block ids and packed block light.
type ChunkData struct {
	CX, CZ int32
	Height int32
	Blocks []byte // EncodeRLE output
	Light  []byte // two 4-bit values per byte
}

func (*ChunkData) ID() int32            { return 0x06 }
func (*ChunkData) State() State         { return StatePlay }
func (*ChunkData) Direction() Direction { return Clientbound }

func (p *ChunkData) Encode(w *Writer) {
	w.Int32(p.CX)
	w.Int32(p.CZ)
	w.VarInt(p.Height)
	w.ByteArray(p.Blocks)
	w.ByteArray(p.Light)
}

func (p *ChunkData) Decode(r *Reader) {
	p.CX = r.Int32()
	p.CZ = r.Int32()
	p.Height = r.VarInt()
	p.Blocks = r.ByteArray(MaxChunkBlocksLen)
	p.Light = r.ByteArray(MaxChunkBlocksLen)
}

type UnloadChunk struct {
	CX, CZ int32
}

func (*UnloadChunk) ID() int32            { return 0x07 }
func (*UnloadChunk) State() State         { return StatePlay }
func (*UnloadChunk) Direction() Direction { return Clientbound }

func (p *UnloadChunk) Encode(w *Writer) {
	w.Int32(p.CX)
	w.Int32(p.CZ)
}

func (p *UnloadChunk) Decode(r *Reader) {
	p.CX = r.Int32()
	p.CZ = r.Int32()
}

type BlockChange struct {
	X, Y, Z int32
	Block   uint16
	Light   uint8
}

func (*BlockChange) ID() int32            { return 0x08 }
func (*BlockChange) State() State         { return StatePlay }
func (*BlockChange) Direction() Direction { return Clientbound }

func (p *BlockChange) Encode(w *Writer) {
	w.Int32(p.X)
	w.Int32(p.Y)
	w.Int32(p.Z)
	w.Uint16(p.Block)
	w.Byte(p.Light)
}

func (p *BlockChange) Decode(r *Reader) {
	p.X = r.Int32()
	p.Y = r.Int32()
	p.Z = r.Int32()
	p.Block = r.Uint16()
	p.Light = r.Byte()
}

// SyncPosition forces the client back to an authoritative position (rejected move).
type SyncPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
}

func (*SyncPosition) ID() int32            { return 0x09 }
func (*SyncPosition) State() State         { return StatePlay }
func (*SyncPosition) Direction() Direction { return Clientbound }

func (p *SyncPosition) Encode(w *Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
}

func (p *SyncPosition) Decode(r *Reader) {
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
}

type Disconnect struct {
	Reason string // JSON chat component
}

func (*Disconnect) ID() int32            { return 0x0A }
func (*Disconnect) State() State         { return StatePlay }
func (*Disconnect) Direction() Direction { return Clientbound }
func (p *Disconnect) Encode(w *Writer)   { w.String(p.Reason) }
func (p *Disconnect) Decode(r *Reader)   { p.Reason = r.String(MaxReasonLen) }
