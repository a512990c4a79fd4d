package identity

import (
	"bytes"
	"testing"

	"github.com/meshlink/core/protocol"
	"github.com/meshlink/core/store"
)

func TestGenerateProducesDistinctKeys(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if bytes.Equal(id.SigningPublic, id.StaticPublic[:]) {
		t.Fatalf("signing and exchange keys must not be derived from the same material")
	}
	var zero [8]byte
	if bytes.Equal(id.NodeID[:], zero[:]) {
		t.Fatalf("NodeID must not be all-zero")
	}
}

func TestNodeIDIsSHA256PrefixOfStaticKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := protocol.PublicKeyToNodeID(id.StaticPublic[:])
	if !bytes.Equal(id.NodeID[:], want) {
		t.Fatalf("NodeID must be the first 8 bytes of SHA-256(static public key)")
	}
}

func TestFingerprintIsStableAndDistinguishing(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(a.Fingerprint()) != 64 {
		t.Fatalf("expected a 32-byte hex fingerprint (64 chars), got %d", len(a.Fingerprint()))
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected distinct identities to have distinct fingerprints")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatalf("expected fingerprint to be stable across calls")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	msg := []byte("announce payload")
	sig := id.Sign(msg)

	if !Verify(id.SigningPublic, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(id.SigningPublic, []byte("tampered"), sig) {
		t.Fatalf("signature must not verify against different data")
	}
}

func TestLoadOrCreatePersistsAcrossCalls(t *testing.T) {
	secrets := store.NewMemoryStore()

	first, err := LoadOrCreate(secrets)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	second, err := LoadOrCreate(secrets)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if !bytes.Equal(first.SigningPublic, second.SigningPublic) {
		t.Fatalf("expected identity to be stable across LoadOrCreate calls")
	}
	if first.NodeID != second.NodeID {
		t.Fatalf("expected stable NodeID across LoadOrCreate calls")
	}
}
