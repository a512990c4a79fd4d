/*
File Name:  Node.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Node is the top-level object a caller embeds: it owns the identity, the peer directory, the
session store, the dedup cache, the chunk reassembly manager and every attached Link, and runs
the single dispatch goroutine that all of them are synchronized through.
*/

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshlink/core/chunker"
	"github.com/meshlink/core/dedup"
	"github.com/meshlink/core/identity"
	"github.com/meshlink/core/link"
	"github.com/meshlink/core/peerdir"
	"github.com/meshlink/core/protocol"
	"github.com/meshlink/core/relay"
	"github.com/meshlink/core/session"
	"github.com/meshlink/core/store"
)

// inboundPacket pairs a raw wire packet with the link it arrived on, the unit of work the
// dispatch goroutine processes.
type inboundPacket struct {
	link string
	raw  []byte
}

// outboundPacket is a send request queued by any goroutine; only the dispatcher writes it to a
// Link. The one packet written around this queue is the Leave that sendLeave sends during Close.
type outboundPacket struct {
	excludeLink string // if non-empty, skip this link (used by the flood relay)
	raw         []byte
}

// Node is a single mesh participant.
type Node struct {
	Config   Config
	Identity *identity.NodeIdentity
	Filters  *Filters

	peers      *peerdir.Directory
	sessions   *session.Store
	dedupe     *dedup.Cache
	transfers  *chunker.Manager
	relay      *relay.Engine
	handshakes *handshakeTable

	linksMutex sync.RWMutex
	links      map[string]link.Link

	inbox  chan inboundPacket
	outbox chan outboundPacket
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Node, loading or generating its identity from secrets, and starts the dispatch
// goroutine along with the background announce loop.
func New(cfg Config, secrets store.Store, filters *Filters) (*Node, error) {
	id, err := identity.LoadOrCreate(secrets)
	if err != nil {
		return nil, fmt.Errorf("core: loading identity: %w", err)
	}
	if cfg.Nickname != "" {
		id.Nickname = cfg.Nickname
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		Config:     cfg,
		Identity:   id,
		Filters:    filters,
		peers:      peerdir.New(),
		sessions:   session.NewStore(),
		dedupe:     dedup.NewCache(cfg.DedupWindow),
		transfers:  chunker.NewManager(cfg.TransferTTL),
		handshakes: newHandshakeTable(),
		links:      make(map[string]link.Link),
		inbox:      make(chan inboundPacket, 256),
		outbox:     make(chan outboundPacket, 256),
		events:     make(chan Event, eventChannelCapacity),
		ctx:        ctx,
		cancel:     cancel,
	}
	n.relay = relay.New(n.relaySend)

	n.wg.Add(1)
	go n.dispatchLoop()

	n.wg.Add(1)
	go n.announceLoop()

	return n, nil
}

// AddLink attaches a Link and starts reading packets from it. name must be unique among
// currently attached links. A fresh Announce goes out immediately so the neighbor on the other
// end learns about this node without waiting for the next periodic beacon.
func (n *Node) AddLink(l link.Link) {
	n.linksMutex.Lock()
	n.links[l.Name()] = l
	n.linksMutex.Unlock()

	n.wg.Add(1)
	go n.readLoop(l)

	n.sendAnnounce()
}

// RemoveLink detaches and closes a link by name and marks every known peer as disconnected. The
// directory does not record which link a peer was reached over, so peers still reachable via
// another link are marked disconnected too, until their next Announce marks them connected again.
// The peer directory entries are kept: a peer may return later over this or another link.
func (n *Node) RemoveLink(name string) {
	n.linksMutex.Lock()
	l, ok := n.links[name]
	delete(n.links, name)
	n.linksMutex.Unlock()

	if !ok {
		return
	}
	l.Close()

	for _, peer := range n.peers.List() {
		n.peers.MarkDisconnected(peer.ID)
		n.emit(Event{Kind: EventConnectionStateChanged, PeerID: peer.ID, Connected: false})
	}
}

func (n *Node) readLoop(l link.Link) {
	defer n.wg.Done()
	for {
		data, err := l.Receive(n.ctx)
		if err != nil {
			if n.ctx.Err() == nil && err != link.ErrClosed {
				n.emit(Event{Kind: EventError, ErrorCode: "link_read_failed", ErrorMessage: fmt.Sprintf("%s: %v", l.Name(), err)})
			}
			return
		}
		select {
		case n.inbox <- inboundPacket{link: l.Name(), raw: data}:
		case <-n.ctx.Done():
			return
		}
	}
}

// relaySend is the relay.Sender callback: it enqueues an already-TTL-decremented packet for
// transmission on every link except excludeLink.
func (n *Node) relaySend(ctx context.Context, excludeLink string, data []byte) {
	select {
	case n.outbox <- outboundPacket{excludeLink: excludeLink, raw: data}:
	case <-ctx.Done():
	}
}

// dispatchLoop is the single goroutine that owns peers, sessions, dedupe and transfers. All
// mutation of those tables happens here or inside calls they make; nothing else touches them
// outside of their own internal locks, which exist for read access from other goroutines (e.g.
// the control API listing peers).
func (n *Node) dispatchLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return

		case in := <-n.inbox:
			n.handleInbound(in)

		case out := <-n.outbox:
			n.handleOutbound(out)
		}
	}
}

func (n *Node) handleInbound(in inboundPacket) {
	packet, err := protocol.DecodePacket(in.raw)
	if err != nil {
		return
	}

	n.Filters.incomingPacket(in.link, packet)

	// The dedup check gates everything downstream: a packet already seen is dropped outright,
	// neither dispatched to a handler a second time nor relayed again.
	key := dedup.KeyFor(packet.SenderID, packet.Timestamp, packet.Type)
	if n.dedupe.Seen(key) {
		n.Filters.duplicateDropped(packet)
		return
	}

	if packet.SenderID == n.Identity.NodeID {
		// Self-sourced packets are dropped immediately after the dedup-key check: we already
		// processed our own side effects when we sent it, and already delivered it directly to
		// every attached link at full TTL.
		return
	}

	switch packet.Type {
	case protocol.TypeAnnounce:
		n.handleAnnounce(packet)
	case protocol.TypePlainMessage:
		n.handlePlainMessage(packet)
	case protocol.TypeLeave:
		n.handleLeave(packet)
	case protocol.TypeHandshake:
		n.handleHandshake(packet)
	case protocol.TypeEncryptedEnvelope:
		n.handleEncryptedEnvelope(packet)
	case protocol.TypeFileTransferMetadata:
		n.handleFileTransferMetadata(packet)
	case protocol.TypeFragment:
		n.handleFragment(packet)
	case protocol.TypeOpaqueAppMessageMetadata:
		n.handleOpaqueAppMessageMetadata(packet)
	}

	n.relay.Forward(n.ctx, packet, in.link)
}

func (n *Node) handleOutbound(out outboundPacket) {
	n.linksMutex.RLock()
	defer n.linksMutex.RUnlock()

	for name, l := range n.links {
		if name == out.excludeLink {
			continue
		}
		if err := l.Send(n.ctx, out.raw); err != nil && n.ctx.Err() == nil {
			n.emit(Event{Kind: EventError, ErrorCode: "link_write_failed", ErrorMessage: fmt.Sprintf("%s: %v", name, err)})
		}
	}
}

func (n *Node) announceLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.Config.AnnounceInterval)
	defer ticker.Stop()

	n.sendAnnounce()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.sendAnnounce()
		}
	}
}

// Peers returns a snapshot of every currently known peer.
func (n *Node) Peers() []peerdir.Peer {
	return n.peers.List()
}

// Close stops the node: it emits a Leave packet, tears down every link and its readers, and
// discards the peer directory and session state. The Leave is written to the links synchronously
// before anything is cancelled so it reliably reaches the wire.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.sendLeave()

		n.cancel()

		n.linksMutex.Lock()
		for _, l := range n.links {
			l.Close()
		}
		n.linksMutex.Unlock()

		n.wg.Wait()

		n.dedupe.Close()
		n.transfers.Close()
	})

	return nil
}
