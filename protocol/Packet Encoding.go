/*
File Name:  Packet Encoding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Wire encoding of the fixed packet header shared by every Link. The header is intentionally small
and fixed-size so that partial reads can be recognized without a separate framing layer.
*/

package protocol

import (
	"encoding/binary"
	"errors"
)

// Wire format (all multi-byte integers big endian):
//
//   offset  size  field
//   0       1     version
//   1       1     type (PacketType)
//   2       1     ttl
//   3       8     senderID (zero-padded right if the identity is shorter)
//   11      8     recipientID (all zero = broadcast)
//   19      8     timestamp (u64, ms since Unix epoch)
//   27      2     payloadLength (u16)
//   29      N     payload
//   29+N    0|64  signature (present only if 64 bytes remain after the payload)

const (
	// Version is the current wire protocol version.
	Version = 1

	headerSize    = 29
	signatureSize = 64
)

// ErrPacketTooShort is returned when a buffer does not contain a complete header or payload.
var ErrPacketTooShort = errors.New("protocol: packet shorter than header or payload")

// ErrPayloadTooLarge is returned when a payload exceeds the 16-bit length field.
var ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")

// Packet is the decoded representation of a wire packet.
type Packet struct {
	Version     uint8
	Type        PacketType
	TTL         uint8
	SenderID    [ShortIDSize]byte
	RecipientID [ShortIDSize]byte // zero value means broadcast/flood
	Timestamp   int64             // milliseconds since Unix epoch
	Payload     []byte
	Signature   []byte // nil if unsigned; otherwise signatureSize bytes
}

// IsBroadcast reports whether the packet has no single recipient.
func (p *Packet) IsBroadcast() bool {
	var zero [ShortIDSize]byte
	return p.RecipientID == zero
}

// SignedRegion returns the byte range covered by Signature: version, type, senderID, recipientID
// (only when the packet is addressed to a specific node; omitted entirely for broadcast packets),
// the big-endian timestamp, and the payload. TTL is deliberately excluded: relays decrement it in
// place while forwarding, and a signature that covered TTL would stop verifying after the first
// hop. The signature trailer itself is never signed over.
func (p *Packet) SignedRegion() []byte {
	buf := make([]byte, 0, headerSize+len(p.Payload))
	buf = append(buf, p.Version, byte(p.Type))
	buf = append(buf, p.SenderID[:]...)
	if !p.IsBroadcast() {
		buf = append(buf, p.RecipientID[:]...)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(p.Timestamp))
	buf = append(buf, ts[:]...)

	buf = append(buf, p.Payload...)
	return buf
}

// Encode serializes the packet into the wire format.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > 0xFFFF {
		return nil, ErrPayloadTooLarge
	}

	total := headerSize + len(p.Payload)
	if p.Signature != nil {
		total += signatureSize
	}

	buf := make([]byte, total)
	buf[0] = p.Version
	buf[1] = byte(p.Type)
	buf[2] = p.TTL
	copy(buf[3:11], p.SenderID[:])
	copy(buf[11:19], p.RecipientID[:])
	binary.BigEndian.PutUint64(buf[19:27], uint64(p.Timestamp))
	binary.BigEndian.PutUint16(buf[27:29], uint16(len(p.Payload)))
	copy(buf[29:29+len(p.Payload)], p.Payload)

	if p.Signature != nil {
		copy(buf[29+len(p.Payload):], p.Signature)
	}

	return buf, nil
}

// DecodePacket parses the wire format into a Packet. It does not verify the signature.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, ErrPacketTooShort
	}

	p := &Packet{
		Version: data[0],
		Type:    PacketType(data[1]),
		TTL:     data[2],
	}
	copy(p.SenderID[:], data[3:11])
	copy(p.RecipientID[:], data[11:19])
	p.Timestamp = int64(binary.BigEndian.Uint64(data[19:27]))

	payloadLen := int(binary.BigEndian.Uint16(data[27:29]))
	end := headerSize + payloadLen
	if len(data) < end {
		return nil, ErrPacketTooShort
	}
	p.Payload = append([]byte(nil), data[headerSize:end]...)

	if len(data)-end == signatureSize {
		p.Signature = append([]byte(nil), data[end:end+signatureSize]...)
	}

	return p, nil
}
