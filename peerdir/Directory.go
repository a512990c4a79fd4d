/*
File Name:  Directory.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The peer directory tracks every node ever announced into the mesh. Entries are never evicted by
staleness: a link drop only marks a peer disconnected, since it may still be reachable through
another neighbor or return later over the same one. Only an explicit Leave payload removes a
peer's entry outright.
*/

package peerdir

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/meshlink/core/protocol"
)

// Peer is one entry in the directory.
type Peer struct {
	ID            [protocol.ShortIDSize]byte
	Nickname      string
	StaticPublic  []byte // X25519 key-agreement public key, learned from Announce
	SigningPublic []byte // Ed25519 signing public key, learned from Announce
	IsConnected   bool
	Verified      bool // true only after out-of-band confirmation; never set by the mesh itself
	LastSeen      time.Time
	HopCount      uint8 // TTL consumed since origin, smaller is closer
}

// Fingerprint returns the full hex-encoded SHA-256 hash of the peer's static key-agreement public
// key. The 8-byte short ID used for routing is a truncation of this value and is not guaranteed
// to be collision-free at large mesh sizes; callers that need out-of-band verification should
// compare fingerprints rather than short IDs.
func (p Peer) Fingerprint() string {
	if len(p.StaticPublic) == 0 {
		return ""
	}
	return hex.EncodeToString(protocol.HashData(p.StaticPublic))
}

// Directory is the mutable, concurrency-safe table of known peers. It is owned exclusively by
// the protocol dispatcher.
type Directory struct {
	mutex sync.RWMutex
	peers map[[protocol.ShortIDSize]byte]*Peer
}

// New creates an empty peer directory.
func New() *Directory {
	return &Directory{peers: make(map[[protocol.ShortIDSize]byte]*Peer)}
}

// Upsert records or refreshes a peer's presence from an Announce payload. Returns true if this is
// a newly seen peer. A peer re-announcing after a link drop is marked connected again.
func (d *Directory) Upsert(id [protocol.ShortIDSize]byte, staticPublic, signingPublic []byte, nickname string, hopCount uint8) (isNew bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	existing, ok := d.peers[id]
	if !ok {
		d.peers[id] = &Peer{
			ID:            id,
			Nickname:      nickname,
			StaticPublic:  staticPublic,
			SigningPublic: signingPublic,
			IsConnected:   true,
			LastSeen:      time.Now(),
			HopCount:      hopCount,
		}
		return true
	}

	existing.LastSeen = time.Now()
	existing.IsConnected = true
	existing.Nickname = nickname
	if len(staticPublic) > 0 {
		existing.StaticPublic = staticPublic
	}
	if len(signingPublic) > 0 {
		existing.SigningPublic = signingPublic
	}
	if hopCount < existing.HopCount {
		existing.HopCount = hopCount
	}
	return false
}

// MarkDisconnected flips isConnected to false for a peer reached only over a link that just went
// down. The entry is kept: the peer may still be reachable through another neighbor.
func (d *Directory) MarkDisconnected(id [protocol.ShortIDSize]byte) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if peer, ok := d.peers[id]; ok {
		peer.IsConnected = false
	}
}

// MarkVerified records that a peer's fingerprint has been confirmed out-of-band.
func (d *Directory) MarkVerified(id [protocol.ShortIDSize]byte) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if peer, ok := d.peers[id]; ok {
		peer.Verified = true
	}
}

// Get returns a copy of the peer entry, if known.
func (d *Directory) Get(id [protocol.ShortIDSize]byte) (Peer, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	peer, ok := d.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// Remove deletes a peer's entry outright, on receipt of its Leave payload.
func (d *Directory) Remove(id [protocol.ShortIDSize]byte) {
	d.mutex.Lock()
	delete(d.peers, id)
	d.mutex.Unlock()
}

// List returns a snapshot of all known peers, connected or not.
func (d *Directory) List() []Peer {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	out := make([]Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		out = append(out, *peer)
	}
	return out
}

// Count returns the number of known peers, connected or not.
func (d *Directory) Count() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.peers)
}
