package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultKeyBits  = 1024
	VerifyTokenSize = 4
)

var ErrBadCiphertext = errors.New("malformed ciphertext")

// KeyPair is the process-wide RSA key used during Login. It is generated once at startup and
// only read afterwards, so it is safe to share between connections.
type KeyPair struct {
	private   *rsa.PrivateKey
	publicDER []byte
}

func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyPair{private: priv, publicDER: der}, nil
}

// PublicDER returns the PKIX encoding sent in EncryptionRequest.
func (k *KeyPair) PublicDER() []byte { return k.publicDER }

// Decrypt opens a PKCS#1 v1.5 ciphertext produced with the public key.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != k.private.Size() {
		return nil, ErrBadCiphertext
	}
	out, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return out, nil
}

// EncryptFor is the client half: seal b with a server's PKIX public key.
func EncryptFor(publicDER, b []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(publicDER)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want rsa", pub)
	}
	return rsa.EncryptPKCS1v15(rand.Reader, rsaPub, b)
}

// NewVerifyToken returns a fresh random single-use token.
func NewVerifyToken() ([]byte, error) {
	b := make([]byte, VerifyTokenSize)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// TokensEqual compares in constant time with respect to the contents.
func TokensEqual(want, got []byte) bool {
	return subtle.ConstantTimeCompare(want, got) == 1
}

// ServerHash is the session digest both sides derive from the server id, the shared secret and
// the public key: SHA-1 rendered as a signed (two's complement) hex number.
func ServerHash(serverID string, secret, publicDER []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(secret)
	h.Write(publicDER)
	sum := h.Sum(nil)

	negative := sum[0]&0x80 != 0
	if negative {
		carry := true
		for i := len(sum) - 1; i >= 0; i-- {
			sum[i] = ^sum[i]
			if carry {
				carry = sum[i] == 0xff
				sum[i]++
			}
		}
	}
	s := strings.TrimLeft(hex.EncodeToString(sum), "0")
	if s == "" {
		s = "0"
	}
	if negative {
		s = "-" + s
	}
	return s
}

// ValidUsername accepts 1..16 characters of [A-Za-z0-9_].
func ValidUsername(name string) bool {
	if len(name) == 0 || len(name) > 16 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
