// Package codec turns length-prefixed, optionally compressed and encrypted frames into typed
// protocol packets and back. It holds no per-connection state: the caller passes its own Params
// on every call.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"voxelgate.ai/internal/protocol"
)

var (
	ErrTruncatedFrame  = errors.New("truncated frame")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrBadFrameLength  = errors.New("invalid frame length")
	ErrDecompress      = errors.New("decompression failed")
	ErrDecrypt         = errors.New("decryption failed")
	ErrUnknownPacket   = errors.New("unknown packet for state")
	ErrMalformedPacket = errors.New("malformed packet")
)

// UnknownPacketError names the discriminant that was not valid in the connection's state.
type UnknownPacketError struct {
	State protocol.State
	ID    int32
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet for state: state=%s id=0x%02x", e.State, e.ID)
}

func (e *UnknownPacketError) Unwrap() error { return ErrUnknownPacket }

const (
	DefaultMaxFrame        = 2 << 20
	DefaultMaxUncompressed = 8 << 20
)

// Params is one connection's framing configuration. The zero value (with MaxFrame set) is plain
// framing; Cipher and Compress are switched on during Login.
type Params struct {
	Cipher          *Cipher
	Compress        bool
	Threshold       int
	MaxFrame        int
	MaxUncompressed int
}

func (p *Params) maxFrame() int {
	if p.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return p.MaxFrame
}

func (p *Params) maxUncompressed() int {
	if p.MaxUncompressed <= 0 {
		return DefaultMaxUncompressed
	}
	return p.MaxUncompressed
}

// Source is what ReadFrame reads from, typically a *bufio.Reader over the socket.
type Source interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads exactly one frame and returns its decoded payload (packet id + fields).
// It returns io.EOF only when the stream ends cleanly between frames.
func ReadFrame(r Source, p *Params) ([]byte, error) {
	n, err := protocol.ReadVarInt(r)
	if err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrTruncatedFrame
		case errors.Is(err, protocol.ErrVarIntTooLong):
			return nil, ErrBadFrameLength
		default:
			return nil, err
		}
	}
	if n <= 0 {
		return nil, ErrBadFrameLength
	}
	if int(n) > p.maxFrame() {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, p.maxFrame())
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	return openBody(body, p)
}

// ParseFrame decodes the frame at the start of b and reports how many bytes it consumed.
func ParseFrame(b []byte, p *Params) (payload []byte, consumed int, err error) {
	n, k, err := protocol.VarIntFromBytes(b)
	if err != nil {
		if errors.Is(err, protocol.ErrShortBuffer) {
			return nil, 0, ErrTruncatedFrame
		}
		return nil, 0, ErrBadFrameLength
	}
	if n <= 0 {
		return nil, 0, ErrBadFrameLength
	}
	if int(n) > p.maxFrame() {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, p.maxFrame())
	}
	if len(b)-k < int(n) {
		return nil, 0, ErrTruncatedFrame
	}
	body := make([]byte, n)
	copy(body, b[k:k+int(n)])
	payload, err = openBody(body, p)
	if err != nil {
		return nil, 0, err
	}
	return payload, k + int(n), nil
}

func openBody(body []byte, p *Params) ([]byte, error) {
	if p.Cipher != nil {
		plain, err := p.Cipher.Open(body)
		if err != nil {
			return nil, err
		}
		body = plain
	}
	if !p.Compress {
		return body, nil
	}
	dataLen, k, err := protocol.VarIntFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrDecompress, err)
	}
	rest := body[k:]
	if dataLen == 0 {
		return rest, nil
	}
	if dataLen < 0 || int(dataLen) > p.maxUncompressed() {
		return nil, fmt.Errorf("%w: declared size %d", ErrDecompress, dataLen)
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()
	out := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m != 0 {
		return nil, fmt.Errorf("%w: size mismatch", ErrDecompress)
	}
	return out, nil
}

var zlibWriters = sync.Pool{
	New: func() any { return zlib.NewWriter(io.Discard) },
}

// AppendFrame appends one frame carrying payload to dst.
func AppendFrame(dst, payload []byte, p *Params) ([]byte, error) {
	body := payload
	if p.Compress {
		var buf bytes.Buffer
		if len(payload) >= p.Threshold {
			head := protocol.AppendVarInt(nil, int32(len(payload)))
			buf.Write(head)
			zw := zlibWriters.Get().(*zlib.Writer)
			zw.Reset(&buf)
			if _, err := zw.Write(payload); err != nil {
				zlibWriters.Put(zw)
				return dst, fmt.Errorf("zlib: %w", err)
			}
			if err := zw.Close(); err != nil {
				zlibWriters.Put(zw)
				return dst, fmt.Errorf("zlib: %w", err)
			}
			zlibWriters.Put(zw)
		} else {
			buf.WriteByte(0)
			buf.Write(payload)
		}
		body = buf.Bytes()
	}
	if p.Cipher != nil {
		body = p.Cipher.Seal(nil, body)
	}
	if len(body) > p.maxFrame() {
		return dst, fmt.Errorf("%w: outgoing %d", ErrFrameTooLarge, len(body))
	}
	dst = protocol.AppendVarInt(dst, int32(len(body)))
	return append(dst, body...), nil
}

// WriteFrame writes one frame carrying payload to w.
func WriteFrame(w io.Writer, payload []byte, p *Params) error {
	frame, err := AppendFrame(make([]byte, 0, len(payload)+protocol.MaxVarIntLen*2+32), payload, p)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Encode serializes a packet into a payload (id + fields).
func Encode(pkt protocol.Packet) []byte {
	w := protocol.NewWriter(64)
	w.VarInt(pkt.ID())
	pkt.Encode(w)
	return w.Data()
}

// Decode parses a payload into the packet variant registered for (state, dir, id).
func Decode(state protocol.State, dir protocol.Direction, payload []byte) (protocol.Packet, error) {
	r := protocol.NewReader(payload)
	id := r.VarInt()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: packet id: %v", ErrMalformedPacket, err)
	}
	pkt, ok := protocol.New(state, dir, id)
	if !ok {
		return nil, &UnknownPacketError{State: state, ID: id}
	}
	pkt.Decode(r)
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrMalformedPacket, pkt, err)
	}
	return pkt, nil
}

// PacketID returns the discriminant of a payload without decoding the rest.
func PacketID(payload []byte) (int32, error) {
	id, _, err := protocol.VarIntFromBytes(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: packet id: %v", ErrMalformedPacket, err)
	}
	return id, nil
}
