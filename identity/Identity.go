/*
File Name:  Identity.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

NodeIdentity holds the two keypairs a mesh node uses: an Ed25519 signing key that signs every
outgoing packet except EncryptedEnvelope (receivers check the signature on Announce), and an X25519 static key-agreement key from which both the node's
short identifier and every pairwise session key are derived. The two are kept separate so that a
compromised session key never exposes the signing key.
*/

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/curve25519"

	"github.com/meshlink/core/protocol"
	"github.com/meshlink/core/store"
)

const (
	keyStoreSigningKey = "mesh.signingKey" // ed25519.PrivateKey, 64 bytes
	keyStorePrivateKey = "mesh.privateKey" // X25519 private scalar, 32 bytes

	// DefaultNickname is used until SetNickname is called.
	DefaultNickname = "anon"
)

// ErrCorruptKey is returned when a stored key does not have the expected length.
var ErrCorruptKey = errors.New("identity: stored key has unexpected size")

// NodeIdentity is the full cryptographic identity of a local mesh node.
type NodeIdentity struct {
	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey

	StaticPublic  [32]byte // X25519 key-agreement public key
	StaticPrivate [32]byte // X25519 key-agreement private scalar

	NodeID [protocol.ShortIDSize]byte

	Nickname string
}

// Generate creates a fresh identity with random keys. It does not persist them.
func Generate() (*NodeIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	id := &NodeIdentity{SigningPublic: pub, SigningPrivate: priv, Nickname: DefaultNickname}

	if _, err := rand.Read(id.StaticPrivate[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&id.StaticPublic, &id.StaticPrivate)

	copy(id.NodeID[:], protocol.PublicKeyToNodeID(id.StaticPublic[:]))

	return id, nil
}

// LoadOrCreate loads both keys from the secret store, generating and persisting a fresh identity
// if either is absent.
func LoadOrCreate(secrets store.Store) (*NodeIdentity, error) {
	signingRaw, foundSigning := secrets.Get([]byte(keyStoreSigningKey))
	exchangeRaw, foundExchange := secrets.Get([]byte(keyStorePrivateKey))

	if foundSigning && foundExchange {
		return decode(signingRaw, exchangeRaw)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Persist(secrets, id); err != nil {
		return nil, err
	}
	return id, nil
}

// Persist writes both private keys to the secret store.
func Persist(secrets store.Store, id *NodeIdentity) error {
	if err := secrets.Set([]byte(keyStoreSigningKey), []byte(id.SigningPrivate)); err != nil {
		return err
	}
	return secrets.Set([]byte(keyStorePrivateKey), id.StaticPrivate[:])
}

func decode(signingRaw, exchangeRaw []byte) (*NodeIdentity, error) {
	if len(signingRaw) != ed25519.PrivateKeySize {
		return nil, ErrCorruptKey
	}
	if len(exchangeRaw) != 32 {
		return nil, ErrCorruptKey
	}

	id := &NodeIdentity{
		SigningPrivate: ed25519.PrivateKey(append([]byte(nil), signingRaw...)),
		Nickname:       DefaultNickname,
	}
	id.SigningPublic = id.SigningPrivate.Public().(ed25519.PublicKey)
	copy(id.StaticPrivate[:], exchangeRaw)
	curve25519.ScalarBaseMult(&id.StaticPublic, &id.StaticPrivate)
	copy(id.NodeID[:], protocol.PublicKeyToNodeID(id.StaticPublic[:]))

	return id, nil
}

// Sign signs data with the node's Ed25519 signing key.
func (id *NodeIdentity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningPrivate, data)
}

// Verify checks a signature against an arbitrary Ed25519 public key.
func Verify(signingPublic ed25519.PublicKey, data, signature []byte) bool {
	if len(signingPublic) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(signingPublic, data, signature)
}

// Fingerprint returns the full hex-encoded SHA-256 digest of the static key-agreement public key.
// The 8-byte NodeID used for routing is a truncation of this value.
func (id *NodeIdentity) Fingerprint() string {
	return hex.EncodeToString(protocol.HashData(id.StaticPublic[:]))
}
