package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := DecodeRLE(EncodeRLE(in), len(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_RejectsOversizedRun(t *testing.T) {
	enc := EncodeRLE(make([]uint16, 100))
	if _, err := DecodeRLE(enc, 99); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestVarInt(t *testing.T) {
	cases := []int32{0, 1, 127, 128, 255, 25565, 2097151, 2147483647, -1, -2147483648}
	for _, v := range cases {
		b := AppendVarInt(nil, v)
		if len(b) != VarIntLen(v) {
			t.Fatalf("len(%d): got %d want %d", v, len(b), VarIntLen(v))
		}
		got, err := ReadVarInt(bytes.NewReader(b))
		if err != nil || got != v {
			t.Fatalf("ReadVarInt(%d): got %d err %v", v, got, err)
		}
		got, n, err := VarIntFromBytes(b)
		if err != nil || got != v || n != len(b) {
			t.Fatalf("VarIntFromBytes(%d): got %d n=%d err %v", v, got, n, err)
		}
	}
	if _, err := ReadVarInt(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})); !errors.Is(err, ErrVarIntTooLong) {
		t.Fatalf("expected ErrVarIntTooLong, got %v", err)
	}
	if _, _, err := VarIntFromBytes([]byte{0x80}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestStateCanAdvance(t *testing.T) {
	forward := [][2]State{
		{StateHandshake, StateStatus},
		{StateHandshake, StateLogin},
		{StateLogin, StatePlay},
		{StatePlay, StateClosed},
		{StateStatus, StateClosed},
	}
	for _, c := range forward {
		if !c[0].CanAdvance(c[1]) {
			t.Fatalf("%s -> %s should be allowed", c[0], c[1])
		}
	}
	backward := [][2]State{
		{StatePlay, StateLogin},
		{StateLogin, StateHandshake},
		{StateStatus, StatePlay},
		{StateClosed, StateHandshake},
		{StateClosed, StateClosed},
		{StateHandshake, StatePlay},
	}
	for _, c := range backward {
		if c[0].CanAdvance(c[1]) {
			t.Fatalf("%s -> %s should be refused", c[0], c[1])
		}
	}
}

func TestRegistryIsStateScoped(t *testing.T) {
	if _, ok := New(StateHandshake, Serverbound, (&ChatMessage{}).ID()); ok {
		t.Fatalf("play packet id must not resolve in handshake")
	}
	p, ok := New(StatePlay, Serverbound, 0x01)
	if !ok {
		t.Fatalf("expected ChatMessage")
	}
	if _, isChat := p.(*ChatMessage); !isChat {
		t.Fatalf("expected *ChatMessage, got %T", p)
	}
	for k, ctor := range registry {
		p := ctor()
		if p.State() != k.state || p.Direction() != k.dir || p.ID() != k.id {
			t.Fatalf("registry key %+v does not match %T", k, p)
		}
	}
}

func TestPacketsRoundTrip(t *testing.T) {
	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	pkts := []Packet{
		&Handshake{ProtocolVersion: Version, ServerAddress: "localhost", ServerPort: 25565, NextState: IntentLogin},
		&EncryptionRequest{ServerID: "", PublicKey: []byte{1, 2, 3}, VerifyToken: []byte{9, 9, 9, 9}},
		&LoginSuccess{UUID: id, Username: "Alice"},
		&SpawnPlayer{EntityID: 7, UUID: id, Name: "Alice", X: 1.5, Y: 64, Z: -3.25, Yaw: 90},
		&DestroyEntities{EntityIDs: []int32{1, 2, 3}},
		&ChunkData{CX: -1, CZ: 2, Height: 64, Blocks: EncodeRLE([]uint16{1, 1, 2}), Light: []byte{0xF0}},
	}
	for _, p := range pkts {
		w := NewWriter(64)
		p.Encode(w)
		q, ok := New(p.State(), p.Direction(), p.ID())
		if !ok {
			t.Fatalf("%T not registered", p)
		}
		r := NewReader(w.Data())
		q.Decode(r)
		if err := r.Finish(); err != nil {
			t.Fatalf("%T decode: %v", p, err)
		}
		w2 := NewWriter(64)
		q.Encode(w2)
		if !bytes.Equal(w.Data(), w2.Data()) {
			t.Fatalf("%T re-encode mismatch", p)
		}
	}
}

func TestReaderRejectsOversizedString(t *testing.T) {
	w := NewWriter(32)
	w.String("this-name-is-way-too-long")
	r := NewReader(w.Data())
	var p LoginStart
	p.Decode(r)
	if !errors.Is(r.Err(), ErrFieldTooLarge) {
		t.Fatalf("expected ErrFieldTooLarge, got %v", r.Err())
	}
}

func TestReasonJSON(t *testing.T) {
	if !IsKnownReason(ReasonInvalidSession) {
		t.Fatalf("expected known reason")
	}
	if IsKnownReason("E_NOT_DEFINED") {
		t.Fatalf("expected unknown reason rejected")
	}
	got := ParseChat(ReasonJSON(ReasonInvalidSession))
	if got != "Invalid session" {
		t.Fatalf("ParseChat: got %q", got)
	}
}
