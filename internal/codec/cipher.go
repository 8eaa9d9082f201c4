package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

// SecretLen is the size of the client-chosen shared secret (AES-128).
const SecretLen = 16

var ErrSecretLength = errors.New("shared secret must be 16 bytes")

const (
	sideClient byte = 0x00 // frames written by the client
	sideServer byte = 0x01 // frames written by the server
)

// Cipher seals outgoing and opens incoming frame bodies with AES-GCM. Each direction carries
// its own frame counter in the nonce, so a frame that is replayed, dropped or reordered fails
// to open. The seal half is used only by the writing goroutine and the open half only by the
// reading goroutine; the two never share state.
type Cipher struct {
	aead cipher.AEAD

	sealSide byte
	sealSeq  uint64
	openSide byte
	openSeq  uint64
}

// NewServerCipher builds the server end of a session keyed by secret.
func NewServerCipher(secret []byte) (*Cipher, error) {
	return newCipher(secret, sideServer, sideClient)
}

// NewClientCipher builds the client end of a session keyed by secret.
func NewClientCipher(secret []byte) (*Cipher, error) {
	return newCipher(secret, sideClient, sideServer)
}

func newCipher(secret []byte, seal, open byte) (*Cipher, error) {
	if len(secret) != SecretLen {
		return nil, ErrSecretLength
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead, sealSide: seal, openSide: open}, nil
}

// Overhead is the number of bytes Seal adds.
func (c *Cipher) Overhead() int { return c.aead.Overhead() }

func nonce(side byte, seq uint64) []byte {
	n := make([]byte, 12)
	n[0] = side
	binary.BigEndian.PutUint64(n[4:], seq)
	return n
}

// Seal appends the sealed plaintext to dst.
func (c *Cipher) Seal(dst, plaintext []byte) []byte {
	out := c.aead.Seal(dst, nonce(c.sealSide, c.sealSeq), plaintext, nil)
	c.sealSeq++
	return out
}

// Open authenticates and decrypts one frame body.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	out, err := c.aead.Open(nil, nonce(c.openSide, c.openSeq), ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	c.openSeq++
	return out, nil
}
