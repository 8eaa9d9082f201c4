package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes block ids as uvarint pairs (block_id, run_len).
func EncodeRLE(ids []uint16) []byte {
	out := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		out = append(out, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		out = append(out, tmp[:n]...)

		i += run
	}
	return out
}

// DecodeRLE expands an EncodeRLE payload; it fails instead of producing more than max ids.
func DecodeRLE(raw []byte, max int) ([]uint16, error) {
	var out []uint16
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		if run > uint64(max-len(out)) {
			return nil, fmt.Errorf("run overflows %d ids", max)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(b))
		}
	}
	return out, nil
}
