/*
File Name:  Handshake.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Tracks which peers this node has already sent its own Handshake to. The handshake exchanges
static X25519 keys directly (no ephemeral keys, no two-phase request/ack): receiving a peer's
static key is by itself enough to derive the shared session key, so the only state worth keeping
is whether we still owe that peer our own key.
*/

package core

import (
	"errors"
	"sync"

	"github.com/meshlink/core/protocol"
)

// ErrNoSession is returned by SendPrivateMessage when no session exists yet for the recipient.
var ErrNoSession = errors.New("core: no session established with peer")

type handshakeTable struct {
	mutex sync.Mutex
	sent  map[[protocol.ShortIDSize]byte]bool
}

func newHandshakeTable() *handshakeTable {
	return &handshakeTable{sent: make(map[[protocol.ShortIDSize]byte]bool)}
}

// MarkSent records that we have sent our own Handshake to peerID.
func (t *handshakeTable) MarkSent(peerID [protocol.ShortIDSize]byte) {
	t.mutex.Lock()
	t.sent[peerID] = true
	t.mutex.Unlock()
}

// HasSent reports whether we have already sent our own Handshake to peerID.
func (t *handshakeTable) HasSent(peerID [protocol.ShortIDSize]byte) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.sent[peerID]
}

// Forget drops the record for a peer, e.g. on Leave, so a later re-announcement starts fresh.
func (t *handshakeTable) Forget(peerID [protocol.ShortIDSize]byte) {
	t.mutex.Lock()
	delete(t.sent, peerID)
	t.mutex.Unlock()
}
