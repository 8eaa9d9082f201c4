package protocol

import "github.com/google/uuid"

// Packet is one typed protocol message. The set of implementations is closed: every variant is
// declared in this package and listed in the registry for exactly one (state, direction, id).
type Packet interface {
	ID() int32
	State() State
	Direction() Direction
	Encode(w *Writer)
	Decode(r *Reader)
}

// Field limits.
const (
	MaxUsernameLen  = 16
	MaxAddressLen   = 255
	MaxChatLen      = 256
	MaxReasonLen    = 32767
	MaxStatusLen    = 32767
	MaxPublicKeyLen = 1024
	MaxCipherLen    = 512
	MaxVerifyLen    = 64
)

// --- Handshake ---

// Handshake is the only packet of the Handshake state; NextState carries the client's intent.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

func (*Handshake) ID() int32            { return 0x00 }
func (*Handshake) State() State         { return StateHandshake }
func (*Handshake) Direction() Direction { return Serverbound }

func (p *Handshake) Encode(w *Writer) {
	w.VarInt(p.ProtocolVersion)
	w.String(p.ServerAddress)
	w.Uint16(p.ServerPort)
	w.VarInt(p.NextState)
}

func (p *Handshake) Decode(r *Reader) {
	p.ProtocolVersion = r.VarInt()
	p.ServerAddress = r.String(MaxAddressLen)
	p.ServerPort = r.Uint16()
	p.NextState = r.VarInt()
}

// --- Status ---

type StatusRequest struct{}

func (*StatusRequest) ID() int32            { return 0x00 }
func (*StatusRequest) State() State         { return StateStatus }
func (*StatusRequest) Direction() Direction { return Serverbound }
func (*StatusRequest) Encode(*Writer)       {}
func (*StatusRequest) Decode(*Reader)       {}

type StatusResponse struct {
	JSON string
}

func (*StatusResponse) ID() int32            { return 0x00 }
func (*StatusResponse) State() State         { return StateStatus }
func (*StatusResponse) Direction() Direction { return Clientbound }
func (p *StatusResponse) Encode(w *Writer)   { w.String(p.JSON) }
func (p *StatusResponse) Decode(r *Reader)   { p.JSON = r.String(MaxStatusLen) }

type Ping struct {
	Payload int64
}

func (*Ping) ID() int32            { return 0x01 }
func (*Ping) State() State         { return StateStatus }
func (*Ping) Direction() Direction { return Serverbound }
func (p *Ping) Encode(w *Writer)   { w.Int64(p.Payload) }
func (p *Ping) Decode(r *Reader)   { p.Payload = r.Int64() }

type Pong struct {
	Payload int64
}

func (*Pong) ID() int32            { return 0x01 }
func (*Pong) State() State         { return StateStatus }
func (*Pong) Direction() Direction { return Clientbound }
func (p *Pong) Encode(w *Writer)   { w.Int64(p.Payload) }
func (p *Pong) Decode(r *Reader)   { p.Payload = r.Int64() }

// --- Login ---

type LoginStart struct {
	Username string
}

func (*LoginStart) ID() int32            { return 0x00 }
func (*LoginStart) State() State         { return StateLogin }
func (*LoginStart) Direction() Direction { return Serverbound }
func (p *LoginStart) Encode(w *Writer)   { w.String(p.Username) }
func (p *LoginStart) Decode(r *Reader)   { p.Username = r.String(MaxUsernameLen) }

// EncryptionResponse carries the shared secret and the echoed verify token, both encrypted with
// the server's public key.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) ID() int32            { return 0x01 }
func (*EncryptionResponse) State() State         { return StateLogin }
func (*EncryptionResponse) Direction() Direction { return Serverbound }

func (p *EncryptionResponse) Encode(w *Writer) {
	w.ByteArray(p.SharedSecret)
	w.ByteArray(p.VerifyToken)
}

func (p *EncryptionResponse) Decode(r *Reader) {
	p.SharedSecret = r.ByteArray(MaxCipherLen)
	p.VerifyToken = r.ByteArray(MaxCipherLen)
}

type LoginDisconnect struct {
	Reason string // JSON chat component
}

func (*LoginDisconnect) ID() int32            { return 0x00 }
func (*LoginDisconnect) State() State         { return StateLogin }
func (*LoginDisconnect) Direction() Direction { return Clientbound }
func (p *LoginDisconnect) Encode(w *Writer)   { w.String(p.Reason) }
func (p *LoginDisconnect) Decode(r *Reader)   { p.Reason = r.String(MaxReasonLen) }

type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte // PKIX DER
	VerifyToken []byte
}

func (*EncryptionRequest) ID() int32            { return 0x01 }
func (*EncryptionRequest) State() State         { return StateLogin }
func (*EncryptionRequest) Direction() Direction { return Clientbound }

func (p *EncryptionRequest) Encode(w *Writer) {
	w.String(p.ServerID)
	w.ByteArray(p.PublicKey)
	w.ByteArray(p.VerifyToken)
}

func (p *EncryptionRequest) Decode(r *Reader) {
	p.ServerID = r.String(20)
	p.PublicKey = r.ByteArray(MaxPublicKeyLen)
	p.VerifyToken = r.ByteArray(MaxVerifyLen)
}

type LoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

func (*LoginSuccess) ID() int32            { return 0x02 }
func (*LoginSuccess) State() State         { return StateLogin }
func (*LoginSuccess) Direction() Direction { return Clientbound }

func (p *LoginSuccess) Encode(w *Writer) {
	w.UUID(p.UUID)
	w.String(p.Username)
}

func (p *LoginSuccess) Decode(r *Reader) {
	p.UUID = r.UUID()
	p.Username = r.String(MaxUsernameLen)
}

// SetCompression enables frame compression for every later frame in both directions.
type SetCompression struct {
	Threshold int32
}

func (*SetCompression) ID() int32            { return 0x03 }
func (*SetCompression) State() State         { return StateLogin }
func (*SetCompression) Direction() Direction { return Clientbound }
func (p *SetCompression) Encode(w *Writer)   { w.VarInt(p.Threshold) }
func (p *SetCompression) Decode(r *Reader)   { p.Threshold = r.VarInt() }
