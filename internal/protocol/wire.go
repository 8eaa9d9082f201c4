package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

// MaxVarIntLen is the longest encoding of a 32-bit VarInt.
const MaxVarIntLen = 5

var (
	ErrVarIntTooLong = errors.New("varint too long")
	ErrShortBuffer   = errors.New("short buffer")
	ErrFieldTooLarge = errors.New("field exceeds limit")
	ErrTrailingBytes = errors.New("trailing bytes after packet")
)

// AppendVarInt appends the LEB128 encoding of v (as an unsigned 32-bit value).
func AppendVarInt(b []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		b = append(b, byte(u)|0x80)
		u >>= 7
	}
	return append(b, byte(u))
}

// VarIntLen returns the encoded size of v.
func VarIntLen(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarInt reads one VarInt from r. io.EOF is returned untouched only when no byte was read.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var u uint32
	for i := 0; i < MaxVarIntLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		u |= uint32(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			return int32(u), nil
		}
	}
	return 0, ErrVarIntTooLong
}

// VarIntFromBytes decodes a VarInt at the start of b and returns it with the consumed length.
func VarIntFromBytes(b []byte) (int32, int, error) {
	var u uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrShortBuffer
		}
		c := b[i]
		u |= uint32(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooLong
}

// Writer builds a packet payload.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Data() []byte { return w.buf }

func (w *Writer) VarInt(v int32)  { w.buf = AppendVarInt(w.buf, v) }
func (w *Writer) Byte(v byte)     { w.buf = append(w.buf, v) }
func (w *Writer) Raw(b []byte)    { w.buf = append(w.buf, b...) }
func (w *Writer) Int32(v int32)   { w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v)) }
func (w *Writer) Int64(v int64)   { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v)) }
func (w *Writer) Uint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) Float32(v float32) { w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v)) }
func (w *Writer) Float64(v float64) { w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v)) }

func (w *Writer) String(s string) {
	w.VarInt(int32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) ByteArray(b []byte) {
	w.VarInt(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) UUID(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }

// Reader decodes a packet payload. The first failure sticks; later reads return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Finish reports an error if the packet was not fully consumed.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.fail(ErrShortBuffer)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) VarInt() int32 {
	if r.err != nil {
		return 0
	}
	v, n, err := VarIntFromBytes(r.buf[r.off:])
	if err != nil {
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	switch r.Byte() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("invalid bool"))
		return false
	}
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) Float32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (r *Reader) Float64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// String reads a length-prefixed string of at most max bytes.
func (r *Reader) String(max int) string {
	return string(r.ByteArray(max))
}

// ByteArray reads a length-prefixed byte slice of at most max bytes. The result aliases the payload.
func (r *Reader) ByteArray(max int) []byte {
	n := r.VarInt()
	if r.err != nil {
		return nil
	}
	if n < 0 || int(n) > max {
		r.fail(fmt.Errorf("%w: %d > %d", ErrFieldTooLarge, n, max))
		return nil
	}
	return r.take(int(n))
}

func (r *Reader) UUID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], r.take(16))
	return id
}
