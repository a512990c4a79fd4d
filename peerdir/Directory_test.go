package peerdir

import (
	"testing"

	"github.com/meshlink/core/protocol"
)

func testID(s string) (id [protocol.ShortIDSize]byte) {
	copy(id[:], []byte(s))
	return id
}

func TestUpsertReportsNewThenExisting(t *testing.T) {
	dir := New()

	id := testID("peer0001")

	if !dir.Upsert(id, []byte("static"), []byte("signing"), "alice", 2) {
		t.Fatalf("expected first Upsert to report new peer")
	}
	if dir.Upsert(id, []byte("static"), []byte("signing"), "alice", 1) {
		t.Fatalf("expected second Upsert to report existing peer")
	}

	peer, ok := dir.Get(id)
	if !ok {
		t.Fatalf("expected peer to be present")
	}
	if peer.HopCount != 1 {
		t.Fatalf("expected HopCount to take the smaller observed value, got %d", peer.HopCount)
	}
	if !peer.IsConnected {
		t.Fatalf("expected a freshly announced peer to be connected")
	}
}

func TestMarkDisconnectedKeepsEntry(t *testing.T) {
	dir := New()

	id := testID("peer0001")
	dir.Upsert(id, []byte("static"), []byte("signing"), "bob", 0)

	dir.MarkDisconnected(id)

	peer, ok := dir.Get(id)
	if !ok {
		t.Fatalf("expected peer entry to survive a link drop")
	}
	if peer.IsConnected {
		t.Fatalf("expected peer to be marked disconnected")
	}
	if dir.Count() != 1 {
		t.Fatalf("expected directory count to be unchanged by a link drop, got %d", dir.Count())
	}
}

func TestReannounceAfterDisconnectMarksConnectedAgain(t *testing.T) {
	dir := New()

	id := testID("peer0001")
	dir.Upsert(id, []byte("static"), []byte("signing"), "bob", 0)
	dir.MarkDisconnected(id)

	dir.Upsert(id, []byte("static"), []byte("signing"), "bob", 0)

	peer, _ := dir.Get(id)
	if !peer.IsConnected {
		t.Fatalf("expected a re-announcement to mark the peer connected again")
	}
}

func TestRemoveDeletesImmediately(t *testing.T) {
	dir := New()

	id := testID("peer0001")
	dir.Upsert(id, nil, nil, "bob", 0)

	dir.Remove(id)
	if _, ok := dir.Get(id); ok {
		t.Fatalf("expected peer to be removed")
	}
}

func TestMarkVerified(t *testing.T) {
	dir := New()

	id := testID("peer0001")
	dir.Upsert(id, []byte("static"), []byte("signing"), "carol", 0)

	peer, _ := dir.Get(id)
	if peer.Verified {
		t.Fatalf("expected a freshly announced peer to be unverified")
	}

	dir.MarkVerified(id)
	peer, _ = dir.Get(id)
	if !peer.Verified {
		t.Fatalf("expected peer to be verified after MarkVerified")
	}
}

func TestFingerprintDerivesFromStaticPublic(t *testing.T) {
	dir := New()

	id := testID("peer0001")
	dir.Upsert(id, []byte("a static public key"), []byte("a signing public key"), "alice", 0)

	peer, ok := dir.Get(id)
	if !ok {
		t.Fatalf("expected peer to be present")
	}

	fp := peer.Fingerprint()
	if len(fp) != 64 {
		t.Fatalf("expected a 32-byte hex fingerprint (64 chars), got %d chars: %q", len(fp), fp)
	}

	other := peer
	other.StaticPublic = []byte("a different static public key")
	if other.Fingerprint() == fp {
		t.Fatalf("expected different static keys to produce different fingerprints")
	}
}

func TestUnknownPeerOperationsAreNoops(t *testing.T) {
	dir := New()
	id := testID("ghost001")

	dir.MarkDisconnected(id)
	dir.MarkVerified(id)
	dir.Remove(id)

	if dir.Count() != 0 {
		t.Fatalf("expected no entries to be created by operating on an unknown peer")
	}
}
