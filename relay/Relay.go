/*
File Name:  Relay.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The relay engine implements mesh-wide flood forwarding: every broadcast packet is rebroadcast on
every link except the one it arrived on, with a decremented TTL, until the TTL reaches zero or
the dedup cache reports it has already been seen. A small random jitter is added before each
rebroadcast to desynchronize nodes that received the same packet at the same time and would
otherwise transmit in lockstep and collide on shared-medium links.
*/

package relay

import (
	"context"
	"math/rand"
	"time"

	"github.com/meshlink/core/protocol"
)

const (
	jitterMin = 10 * time.Millisecond
	jitterMax = 100 * time.Millisecond
)

// Sender abstracts delivering an already-encoded packet to a link, decoupling the engine from
// how the dispatcher tracks its active links.
type Sender func(ctx context.Context, excludeLink string, data []byte)

// Engine schedules the TTL-decremented rebroadcast of a packet the caller has already admitted
// past the dedup cache. Deduplication is deliberately not this package's concern: the dispatcher
// must run every inbound packet through its dedup cache exactly once, before any local dispatch
// or relay decision, so that a replayed packet neither re-triggers handlers nor gets relayed
// twice (see dedup.Cache, consulted once per packet by the caller).
type Engine struct {
	send Sender
	rng  *rand.Rand
}

// New creates a relay engine. send is invoked for every rebroadcast, once per packet, with
// excludeLink set to the link the packet was received on.
func New(send Sender) *Engine {
	return &Engine{
		send: send,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Forward schedules a TTL-decremented copy of p for rebroadcast, after a random jitter delay, on
// every link except sourceLink. It is a no-op if p.TTL is already zero. Relaying applies
// regardless of whether the packet is addressed to a specific recipient or broadcast: an
// addressed packet for a peer beyond direct radio range still needs every intermediate hop to
// forward it.
func (e *Engine) Forward(ctx context.Context, p *protocol.Packet, sourceLink string) {
	if p.TTL == 0 {
		return
	}

	forwarded := *p
	forwarded.TTL--

	data, err := forwarded.Encode()
	if err != nil {
		return
	}

	jitter := jitterMin + time.Duration(e.rng.Int63n(int64(jitterMax-jitterMin)))

	go func() {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return
		}
		e.send(ctx, sourceLink, data)
	}()
}
