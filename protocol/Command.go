/*
File Name:  Command.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

// PacketType identifies the outer wire packet kind carried in the fixed header.
type PacketType uint8

// Packet types exchanged between mesh nodes over any Link.
const (
	TypeAnnounce                 PacketType = 0x01 // periodic presence beacon, flooded
	TypePlainMessage             PacketType = 0x02 // unencrypted chat broadcast
	TypeLeave                    PacketType = 0x03 // graceful departure notice
	TypeHandshake                PacketType = 0x04 // raw static-key offer/reply
	TypeEncryptedEnvelope        PacketType = 0x05 // session-encrypted container for an inner payload
	TypeFileTransferMetadata     PacketType = 0x06 // announces an incoming file transfer
	TypeFragment                 PacketType = 0x07 // one chunk of a file transfer or oversized envelope
	TypeRequestSync              PacketType = 0x08 // reserved, not used in the baseline protocol
	TypeOpaqueAppMessageMetadata PacketType = 0x09 // announces an incoming oversized encrypted payload
)

func (t PacketType) String() string {
	switch t {
	case TypeAnnounce:
		return "Announce"
	case TypePlainMessage:
		return "PlainMessage"
	case TypeLeave:
		return "Leave"
	case TypeHandshake:
		return "Handshake"
	case TypeEncryptedEnvelope:
		return "EncryptedEnvelope"
	case TypeFileTransferMetadata:
		return "FileTransferMetadata"
	case TypeFragment:
		return "Fragment"
	case TypeRequestSync:
		return "RequestSync"
	case TypeOpaqueAppMessageMetadata:
		return "OpaqueAppMessageMetadata"
	default:
		return "Unknown"
	}
}

// NoisePayloadType identifies the first byte of the plaintext carried inside an
// EncryptedEnvelope, i.e. the decrypted payload's own type tag.
type NoisePayloadType uint8

const (
	NoisePrivateMessage  NoisePayloadType = 0x01
	NoiseReadReceipt     NoisePayloadType = 0x02
	NoiseDeliveryAck     NoisePayloadType = 0x03
	NoiseFileTransfer    NoisePayloadType = 0x04 // reserved, unused: files travel unencrypted as 0x06/0x07
	NoiseVerifyChallenge NoisePayloadType = 0x05 // reserved
	NoiseVerifyResponse  NoisePayloadType = 0x06 // reserved
	NoiseOpaqueAppMsg    NoisePayloadType = 0x07
	NoiseOpaqueAppResp   NoisePayloadType = 0x08
)

func (t NoisePayloadType) String() string {
	switch t {
	case NoisePrivateMessage:
		return "PrivateMessage"
	case NoiseReadReceipt:
		return "ReadReceipt"
	case NoiseDeliveryAck:
		return "DeliveryAck"
	case NoiseFileTransfer:
		return "FileTransfer"
	case NoiseVerifyChallenge:
		return "VerifyChallenge"
	case NoiseVerifyResponse:
		return "VerifyResponse"
	case NoiseOpaqueAppMsg:
		return "OpaqueAppMessage"
	case NoiseOpaqueAppResp:
		return "OpaqueAppResponse"
	default:
		return "Unknown"
	}
}
