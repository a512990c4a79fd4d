/*
File Name:  Dedup.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

This code caches fingerprints of recently relayed packets so the flood relay never rebroadcasts
the same message twice. A packet's fingerprint is the triple of senderID, timestamp and type,
which is cheap to compute and does not require decrypting the payload.
*/

package dedup

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/meshlink/core/protocol"
)

// Key uniquely identifies a packet for deduplication purposes, independent of which link or
// relay path it arrived over.
type Key [8 + 8 + 1]byte

// KeyFor derives the dedup key for a packet.
func KeyFor(senderID [protocol.ShortIDSize]byte, timestamp int64, packetType protocol.PacketType) (key Key) {
	copy(key[:8], senderID[:])
	binary.BigEndian.PutUint64(key[8:16], uint64(timestamp))
	key[16] = byte(packetType)
	return key
}

// DefaultCapacity is the minimum number of entries the cache must retain regardless of how the
// time-window sweep is tuned; a long-lived node with a slow sweep still bounds memory via FIFO
// eviction past this many entries.
const DefaultCapacity = 4096

// Cache is a bounded, time-windowed set of recently seen dedup keys. Two independent eviction
// policies keep it bounded: a background sweep drops entries whose time window has elapsed, and
// a FIFO eviction on insert drops the oldest entry once the cache exceeds its capacity, so a
// burst of traffic cannot grow the set past that cap even before the next sweep runs.
type Cache struct {
	window   time.Duration
	capacity int

	mutex sync.Mutex
	seen  map[Key]time.Time
	order []Key // insertion order of new keys, oldest first

	stop chan struct{}
}

// NewCache creates a dedup cache with DefaultCapacity and starts its background expiry sweep.
// window controls both how long a key is remembered and how often the sweep runs.
func NewCache(window time.Duration) *Cache {
	return NewCacheWithCapacity(window, DefaultCapacity)
}

// NewCacheWithCapacity creates a dedup cache with an explicit FIFO eviction capacity.
func NewCacheWithCapacity(window time.Duration, capacity int) *Cache {
	c := &Cache{
		window:   window,
		capacity: capacity,
		seen:     make(map[Key]time.Time),
		stop:     make(chan struct{}),
	}
	go c.autoDeleteExpired()
	return c
}

// autoDeleteExpired periodically purges keys whose window has elapsed.
func (c *Cache) autoDeleteExpired() {
	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mutex.Lock()
			for key, expires := range c.seen {
				if expires.Before(now) {
					delete(c.seen, key)
				}
			}
			// order may reference keys the sweep above (or a prior cap eviction) already
			// dropped from seen; compact it so it cannot grow unbounded independently of seen.
			compacted := c.order[:0]
			for _, key := range c.order {
				if _, ok := c.seen[key]; ok {
					compacted = append(compacted, key)
				}
			}
			c.order = compacted
			c.mutex.Unlock()
		}
	}
}

// Seen checks whether key has already been recorded, and records it if not. It returns true if
// the key was already present (the caller should drop the packet), false if this is the first
// sighting (the caller should relay it).
func (c *Cache) Seen(key Key) bool {
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if expires, ok := c.seen[key]; ok && expires.After(now) {
		return true
	}

	c.seen[key] = now.Add(c.window)
	c.order = append(c.order, key)
	c.evictOverCapacityLocked()
	return false
}

// evictOverCapacityLocked drops the oldest tracked keys until the cache is back within capacity.
// Callers must hold c.mutex.
func (c *Cache) evictOverCapacityLocked() {
	for len(c.seen) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
}

// Len returns the number of keys currently tracked. Intended for tests and diagnostics.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.seen)
}

// Close stops the background expiry sweep.
func (c *Cache) Close() {
	close(c.stop)
}
