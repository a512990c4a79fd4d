package dedup

import (
	"testing"
	"time"

	"github.com/meshlink/core/protocol"
)

func TestSeenDetectsDuplicate(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	var sender [protocol.ShortIDSize]byte
	copy(sender[:], []byte("sender01"))
	key := KeyFor(sender, 100, protocol.TypeAnnounce)

	if cache.Seen(key) {
		t.Fatalf("first sighting should not be reported as seen")
	}
	if !cache.Seen(key) {
		t.Fatalf("second sighting of the same key should be reported as seen")
	}
}

func TestSeenDistinguishesKeys(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	var sender [protocol.ShortIDSize]byte
	copy(sender[:], []byte("sender01"))

	k1 := KeyFor(sender, 100, protocol.TypeAnnounce)
	k2 := KeyFor(sender, 101, protocol.TypeAnnounce)

	cache.Seen(k1)
	if cache.Seen(k2) {
		t.Fatalf("distinct timestamp must produce a distinct key")
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	cache := NewCacheWithCapacity(time.Minute, 4)
	defer cache.Close()

	var sender [protocol.ShortIDSize]byte
	copy(sender[:], []byte("sender01"))

	keys := make([]Key, 6)
	for i := range keys {
		keys[i] = KeyFor(sender, int64(i), protocol.TypeAnnounce)
		cache.Seen(keys[i])
	}

	if cache.Len() != 4 {
		t.Fatalf("expected cache capped at 4 entries, got %d", cache.Len())
	}
	if cache.Seen(keys[0]) {
		t.Fatalf("expected oldest key to have been evicted, not reported as already seen")
	}
	if !cache.Seen(keys[5]) {
		t.Fatalf("expected most recent key to still be tracked")
	}
}

func TestExpirySweepRemovesOldEntries(t *testing.T) {
	cache := NewCache(20 * time.Millisecond)
	defer cache.Close()

	var sender [protocol.ShortIDSize]byte
	copy(sender[:], []byte("sender01"))
	key := KeyFor(sender, 1, protocol.TypeAnnounce)

	cache.Seen(key)
	time.Sleep(100 * time.Millisecond)

	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be swept, cache still has %d entries", cache.Len())
	}
}
