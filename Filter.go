/*
File Name:  Filter.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Two ways a caller observes what the dispatcher does. Filters is a table of optional low-level
callbacks, mirroring the nil-safe hook pattern used throughout the codebase so tests and the
control API can tap individual moments without the dispatcher knowing about any of them. Events
is the host-facing surface: a sum type over every outward-facing event kind the protocol defines,
delivered on a bounded channel that a host application polls or awaits instead of wiring up a
callback per kind.
*/

package core

import (
	"github.com/meshlink/core/peerdir"
	"github.com/meshlink/core/protocol"
)

// EventKind identifies which fields of an Event are populated.
type EventKind string

const (
	EventPeerListUpdated             EventKind = "peer-list-updated"
	EventMessageReceived             EventKind = "message-received"
	EventFileReceived                EventKind = "file-received"
	EventApplicationMessageReceived  EventKind = "application-message-received"
	EventApplicationResponseReceived EventKind = "application-response-received"
	EventConnectionStateChanged      EventKind = "connection-state-changed"
	EventReadReceipt                 EventKind = "read-receipt"
	EventDeliveryAck                 EventKind = "delivery-ack"
	EventError                       EventKind = "error"
)

// Event is the sum type delivered on Node's outbound event channel.
type Event struct {
	Kind EventKind

	// message-received
	MessageID      string
	SenderID       [protocol.ShortIDSize]byte
	SenderNickname string
	Content        string
	IsPrivate      bool

	// file-received
	FileName  string
	FileSize  uint64
	MimeType  string
	Data      string // base64-encoded reassembled bytes
	Checksum  string // short BLAKE3 digest of the reassembled bytes, hex
	Timestamp int64  // ms since Unix epoch

	// application-message-received / application-response-received
	AppMessageID string
	AppKind      string
	AppPayload   []byte
	AppSuccess   []byte
	AppError     string

	// connection-state-changed
	PeerID    [protocol.ShortIDSize]byte
	Connected bool

	// error
	ErrorCode    string
	ErrorMessage string
}

// Filters is a table of optional low-level callbacks invoked by the dispatcher as packets move
// through it. Every field is optional; nil entries are simply skipped.
type Filters struct {
	// IncomingPacket is called for every packet decoded off a Link, before dedup/relay handling.
	IncomingPacket func(sourceLink string, packet *protocol.Packet)

	// OutgoingPacket is called for every packet about to be written to a Link.
	OutgoingPacket func(destLink string, packet *protocol.Packet)

	// PeerDiscovered is called the first time a peer is seen.
	PeerDiscovered func(peer peerdir.Peer)

	// DuplicateDropped is called when the dispatcher's dedup check drops an already-seen packet,
	// before any handler or the relay engine sees it.
	DuplicateDropped func(packet *protocol.Packet)
}

func (f *Filters) incomingPacket(sourceLink string, packet *protocol.Packet) {
	if f != nil && f.IncomingPacket != nil {
		f.IncomingPacket(sourceLink, packet)
	}
}

func (f *Filters) outgoingPacket(destLink string, packet *protocol.Packet) {
	if f != nil && f.OutgoingPacket != nil {
		f.OutgoingPacket(destLink, packet)
	}
}

func (f *Filters) peerDiscovered(peer peerdir.Peer) {
	if f != nil && f.PeerDiscovered != nil {
		f.PeerDiscovered(peer)
	}
}

func (f *Filters) duplicateDropped(packet *protocol.Packet) {
	if f != nil && f.DuplicateDropped != nil {
		f.DuplicateDropped(packet)
	}
}

// eventChannelCapacity bounds the outbound Events channel; a host that stops draining it loses
// new events rather than stalling the dispatch goroutine.
const eventChannelCapacity = 256

// emit delivers ev on the Node's event channel without blocking the dispatch goroutine. If the
// channel is full the event is dropped; a host that needs every event must keep draining it.
func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
	}
}

// Events returns the channel the host reads protocol-level events from.
func (n *Node) Events() <-chan Event {
	return n.events
}
