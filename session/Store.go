/*
File Name:  Store.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

In-memory table of active sessions, keyed by peer node ID. Owned exclusively by the dispatch
goroutine; callers outside of it must not hold a *Session across a yield point.
*/

package session

import (
	"sync"
)

// Store holds one Session per peer that has completed a handshake.
type Store struct {
	mutex    sync.RWMutex
	sessions map[[8]byte]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[[8]byte]*Session)}
}

// Get returns the session for a peer, if one exists.
func (s *Store) Get(peerID [8]byte) (*Session, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	sess, ok := s.sessions[peerID]
	return sess, ok
}

// Put installs or replaces the session for a peer.
func (s *Store) Put(peerID [8]byte, sess *Session) {
	s.mutex.Lock()
	s.sessions[peerID] = sess
	s.mutex.Unlock()
}

// Remove drops the session for a peer, e.g. when it is evicted from the peer directory.
func (s *Store) Remove(peerID [8]byte) {
	s.mutex.Lock()
	delete(s.sessions, peerID)
	s.mutex.Unlock()
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}
