package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"voxelgate.ai/internal/protocol"
)

func secret() []byte { return []byte("0123456789abcdef") }

func paramPair(t *testing.T, compress, encrypt bool) (server, client *Params) {
	t.Helper()
	server = &Params{MaxFrame: 1 << 16}
	client = &Params{MaxFrame: 1 << 16}
	if compress {
		server.Compress, server.Threshold = true, 64
		client.Compress, client.Threshold = true, 64
	}
	if encrypt {
		sc, err := NewServerCipher(secret())
		if err != nil {
			t.Fatalf("server cipher: %v", err)
		}
		cc, err := NewClientCipher(secret())
		if err != nil {
			t.Fatalf("client cipher: %v", err)
		}
		server.Cipher, client.Cipher = sc, cc
	}
	return server, client
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x01},
		bytes.Repeat([]byte("a"), 63),
		bytes.Repeat([]byte("voxel"), 400),
	}
	for _, compress := range []bool{false, true} {
		for _, encrypt := range []bool{false, true} {
			server, client := paramPair(t, compress, encrypt)
			var wire bytes.Buffer
			for _, p := range payloads {
				if err := WriteFrame(&wire, p, server); err != nil {
					t.Fatalf("WriteFrame(c=%v e=%v): %v", compress, encrypt, err)
				}
			}
			r := bufio.NewReader(&wire)
			for i, want := range payloads {
				got, err := ReadFrame(r, client)
				if err != nil {
					t.Fatalf("ReadFrame #%d (c=%v e=%v): %v", i, compress, encrypt, err)
				}
				if !bytes.Equal(got, want) {
					t.Fatalf("payload #%d mismatch (c=%v e=%v)", i, compress, encrypt)
				}
			}
			if _, err := ReadFrame(r, client); err != io.EOF {
				t.Fatalf("expected clean io.EOF, got %v", err)
			}
		}
	}
}

func TestReadFrameTruncated(t *testing.T) {
	p := &Params{MaxFrame: 1024}
	frame := protocol.AppendVarInt(nil, 10)
	frame = append(frame, 1, 2, 3, 4, 5)
	if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
	if _, _, err := ParseFrame(frame, p); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("ParseFrame: expected ErrTruncatedFrame, got %v", err)
	}
	// Length prefix cut in the middle.
	if _, err := ReadFrame(bytes.NewReader([]byte{0x80}), p); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame for partial prefix, got %v", err)
	}
}

func TestReadFrameOversizedIsRejectedBeforeBody(t *testing.T) {
	p := &Params{MaxFrame: 1024}
	frame := protocol.AppendVarInt(nil, 1025)
	// No body at all: the size check must not wait for it.
	if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameBadLength(t *testing.T) {
	p := &Params{MaxFrame: 1024}
	for _, frame := range [][]byte{
		{0x00},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0x01},
		protocol.AppendVarInt(nil, -5),
	} {
		if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrBadFrameLength) {
			t.Fatalf("frame %x: expected ErrBadFrameLength, got %v", frame, err)
		}
	}
}

func TestReadFrameDoesNotReadPastFrame(t *testing.T) {
	p := &Params{MaxFrame: 1024}
	var wire []byte
	wire, _ = AppendFrame(wire, []byte{1, 2, 3}, p)
	first := len(wire)
	wire, _ = AppendFrame(wire, []byte{4, 5}, p)

	r := bytes.NewReader(wire)
	if _, err := ReadFrame(r, p); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got, want := r.Len(), len(wire)-first; got != want {
		t.Fatalf("reader consumed past frame: remaining %d want %d", got, want)
	}
	_, n, err := ParseFrame(wire, p)
	if err != nil || n != first {
		t.Fatalf("ParseFrame consumed %d want %d (err %v)", n, first, err)
	}
}

func TestReadFrameUndecryptable(t *testing.T) {
	server, client := paramPair(t, false, true)
	frame, err := AppendFrame(nil, []byte("hello"), server)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := ReadFrame(bytes.NewReader(tampered), client); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for tampered frame, got %v", err)
	}

	// A frame opened once cannot be opened again (replay).
	_, client2 := paramPair(t, false, true)
	if _, err := ReadFrame(bytes.NewReader(frame), client2); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(frame), client2); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt on replay, got %v", err)
	}

	// Frames sealed in one direction cannot be opened as the other direction.
	if _, err := ReadFrame(bytes.NewReader(frame), server); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt on reflected frame, got %v", err)
	}
}

func TestReadFrameDecompressFailures(t *testing.T) {
	p := &Params{MaxFrame: 1024, Compress: true, Threshold: 16, MaxUncompressed: 4096}

	garbage := protocol.AppendVarInt(nil, 100)
	garbage = append(garbage, []byte("definitely not zlib")...)
	frame := protocol.AppendVarInt(nil, int32(len(garbage)))
	frame = append(frame, garbage...)
	if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress for garbage, got %v", err)
	}

	huge := protocol.AppendVarInt(nil, 1<<30)
	huge = append(huge, 0x78, 0x9c)
	frame = protocol.AppendVarInt(nil, int32(len(huge)))
	frame = append(frame, huge...)
	if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress for oversized declared length, got %v", err)
	}

	// Declared length larger than the actual inflated payload.
	sender := &Params{MaxFrame: 1024, Compress: true, Threshold: 16}
	good, err := AppendFrame(nil, bytes.Repeat([]byte("x"), 32), sender)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	_, k, _ := protocol.VarIntFromBytes(good)
	body := good[k:]
	_, dk, _ := protocol.VarIntFromBytes(body)
	lying := protocol.AppendVarInt(nil, 33)
	lying = append(lying, body[dk:]...)
	frame = protocol.AppendVarInt(nil, int32(len(lying)))
	frame = append(frame, lying...)
	if _, err := ReadFrame(bytes.NewReader(frame), p); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress for size mismatch, got %v", err)
	}
}

func TestDecodeUnknownPacketForState(t *testing.T) {
	payload := Encode(&protocol.ChatMessage{Text: "hi"})
	_, err := Decode(protocol.StateHandshake, protocol.Serverbound, payload)
	if !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("expected ErrUnknownPacket, got %v", err)
	}
	var upe *UnknownPacketError
	if !errors.As(err, &upe) || upe.ID != 0x01 || upe.State != protocol.StateHandshake {
		t.Fatalf("expected UnknownPacketError{handshake,0x01}, got %#v", err)
	}

	pkt, err := Decode(protocol.StatePlay, protocol.Serverbound, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if chat, ok := pkt.(*protocol.ChatMessage); !ok || chat.Text != "hi" {
		t.Fatalf("unexpected packet %#v", pkt)
	}
}

func TestDecodeMalformed(t *testing.T) {
	payload := Encode(&protocol.PlayerPosition{X: 1})
	if _, err := Decode(protocol.StatePlay, protocol.Serverbound, payload[:len(payload)-3]); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket for short payload, got %v", err)
	}
	if _, err := Decode(protocol.StatePlay, protocol.Serverbound, append(payload, 0xAA)); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket for trailing bytes, got %v", err)
	}
	if _, err := Decode(protocol.StatePlay, protocol.Serverbound, nil); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket for empty payload, got %v", err)
	}
}

func TestHostileInputNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	states := []protocol.State{protocol.StateHandshake, protocol.StateStatus, protocol.StateLogin, protocol.StatePlay}
	plain := &Params{MaxFrame: 4096}
	packed := &Params{MaxFrame: 4096, Compress: true, Threshold: 8, MaxUncompressed: 1 << 16}
	_, enc := paramPair(t, true, true)
	for i := 0; i < 2000; i++ {
		b := make([]byte, rng.Intn(64))
		rng.Read(b)
		for _, p := range []*Params{plain, packed, enc} {
			if payload, err := ReadFrame(bytes.NewReader(b), p); err == nil {
				for _, s := range states {
					_, _ = Decode(s, protocol.Serverbound, payload)
				}
			}
			_, _, _ = ParseFrame(b, p)
		}
		for _, s := range states {
			_, _ = Decode(s, protocol.Serverbound, b)
		}
	}
}
