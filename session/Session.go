/*
File Name:  Session.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Per-peer session state. A session holds the single symmetric traffic key derived from a pairwise
X25519 key agreement between two nodes' static keys, used for authenticated encryption in both
directions.
*/

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// HandshakeContext is mixed into the key-derivation function so the derived key is bound to this
// protocol and cannot be reused if the same X25519 shared secret were ever produced in another
// context.
const HandshakeContext = "mesh-encryption"

const (
	nonceSize = 12 // 96-bit AEAD nonce
	KeySize   = 32
)

// ErrAllZeroSharedSecret is returned when an X25519 exchange yields the all-zero output, which
// happens only for pathological (low-order) public keys and must never be treated as a valid key.
var ErrAllZeroSharedSecret = errors.New("session: X25519 exchange produced all-zero shared secret")

// DeriveKey performs X25519 ECDH between ourPrivate and theirPublic, then HKDF-SHA256 over the
// shared secret to produce the single 32-byte symmetric key for this pairwise session. Because
// ECDH is commutative and the same context string is used on both ends, the two peers derive an
// identical key regardless of which one initiated the handshake.
func DeriveKey(ourPrivate, theirPublic *[32]byte) ([32]byte, error) {
	var shared [32]byte
	curve25519.ScalarMult(&shared, ourPrivate, theirPublic)

	allZero := true
	for _, b := range shared {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return [32]byte{}, ErrAllZeroSharedSecret
	}

	reader := hkdf.New(sha256.New, shared[:], nil, []byte(HandshakeContext))
	var key [32]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return [32]byte{}, err
	}
	return key, nil
}

// Session is the mutable per-peer encryption state held by the session store.
type Session struct {
	key [KeySize]byte
}

// New creates a session from a derived symmetric key.
func New(key [32]byte) *Session {
	return &Session{key: key}
}

// Encrypt seals plaintext under the session key using AES-256-GCM with a fresh random nonce,
// returning nonce || ciphertext-with-tag as a single slice, matching the wire layout of an
// EncryptedEnvelope payload.
func (s *Session) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

// Decrypt splits envelope into its nonce and ciphertext-with-tag and opens it under the session
// key. Any failure (too short, wrong key, tampered ciphertext) is reported as a single opaque
// error: callers must treat it as a silent drop per the protocol's error-handling policy, not
// surface it to the sender.
func (s *Session) Decrypt(envelope, additionalData []byte) ([]byte, error) {
	if len(envelope) < nonceSize {
		return nil, errors.New("session: envelope shorter than nonce")
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := envelope[:nonceSize]
	ciphertext := envelope[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, additionalData)
}
