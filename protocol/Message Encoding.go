/*
File Name:  Message Encoding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

TLV encoding used for every payload shape in the protocol: tag(1) : length(2, big endian) :
value. Tags are context-local to the payload they appear in -- the same numeric tag means a
different field depending on which packet type or inner Noise payload carries it, so each shape
below gets its own named constant group rather than one global enumeration.
*/

package protocol

import (
	"encoding/binary"
	"errors"
)

// Tag identifies the meaning of a TLV record within the payload shape that defines it.
type Tag uint8

// Announce (0x01) TLV tags.
const (
	AnnounceTagNickname   Tag = 0x01 // UTF-8 nickname
	AnnounceTagStaticKey  Tag = 0x02 // raw X25519 static key-agreement public key
	AnnounceTagSigningKey Tag = 0x03 // raw Ed25519 signing public key
)

// PrivateMessage (inner Noise type 0x01) TLV tags.
const (
	PrivateMessageTagID      Tag = 0x01 // UTF-8 message id
	PrivateMessageTagContent Tag = 0x02 // UTF-8 message content
)

// FileTransferMetadata (0x06) TLV tags.
const (
	FileMetaTagTransferID  Tag = 0x01 // UTF-8 transfer id
	FileMetaTagFileName    Tag = 0x02 // UTF-8 file name
	FileMetaTagFileSize    Tag = 0x03 // u32 total file size in bytes
	FileMetaTagMimeType    Tag = 0x04 // UTF-8 MIME type
	FileMetaTagTotalChunks Tag = 0x05 // u32 total fragment count
)

// Fragment (0x07) TLV tags, shared by file transfers and oversized encrypted payloads.
const (
	FragmentTagID          Tag = 0x01 // UTF-8 transfer id
	FragmentTagChunkIndex  Tag = 0x02 // u32 zero-based chunk index
	FragmentTagTotalChunks Tag = 0x03 // u32 total fragment count
	FragmentTagChunkData   Tag = 0x04 // raw chunk bytes
)

// OpaqueAppMessageMetadata (0x09) TLV tags.
const (
	OpaqueMetaTagTxID        Tag = 0x01 // UTF-8 transaction id
	OpaqueMetaTagTotalSize   Tag = 0x02 // u32 total ciphertext size in bytes
	OpaqueMetaTagTotalChunks Tag = 0x03 // u32 total fragment count
)

// OpaqueAppMessage (inner Noise type 0x07) TLV tags.
const (
	OpaqueMsgTagID      Tag = 0x01 // UTF-8 application message id
	OpaqueMsgTagKind    Tag = 0x02 // UTF-8 application-defined message kind/field name
	OpaqueMsgTagPayload Tag = 0x03 // raw opaque application bytes
)

// OpaqueAppResponse (inner Noise type 0x08) TLV tags.
const (
	OpaqueRespTagID      Tag = 0x01 // UTF-8 id of the application message being answered
	OpaqueRespTagSuccess Tag = 0x02 // raw success payload, present only on success
	OpaqueRespTagError   Tag = 0x03 // UTF-8 error text, present only on failure
)

// ErrTruncatedTLV is returned when a buffer ends in the middle of a record.
var ErrTruncatedTLV = errors.New("protocol: truncated tlv record")

// Record is one decoded tag/value pair.
type Record struct {
	Tag   Tag
	Value []byte
}

// EncodeTLV appends tag:len:value to dst and returns the result.
func EncodeTLV(dst []byte, tag Tag, value []byte) []byte {
	var header [3]byte
	header[0] = byte(tag)
	binary.BigEndian.PutUint16(header[1:3], uint16(len(value)))
	dst = append(dst, header[:]...)
	dst = append(dst, value...)
	return dst
}

// EncodeTLVUint32 appends a TLV record whose value is a big-endian uint32.
func EncodeTLVUint32(dst []byte, tag Tag, value uint32) []byte {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], value)
	return EncodeTLV(dst, tag, v[:])
}

// DecodeTLV parses a buffer fully populated with consecutive TLV records. Unknown tags are
// returned like any other record; callers skip the ones they do not recognize by simply not
// looking them up.
func DecodeTLV(data []byte) (records []Record, err error) {
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, ErrTruncatedTLV
		}
		tag := Tag(data[0])
		length := int(binary.BigEndian.Uint16(data[1:3]))
		data = data[3:]
		if len(data) < length {
			return nil, ErrTruncatedTLV
		}
		records = append(records, Record{Tag: tag, Value: append([]byte(nil), data[:length]...)})
		data = data[length:]
	}
	return records, nil
}

// Find returns the value of the first record with the given tag.
func Find(records []Record, tag Tag) (value []byte, ok bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r.Value, true
		}
	}
	return nil, false
}

// FindUint32 returns a tag's value decoded as a big-endian uint32.
func FindUint32(records []Record, tag Tag) (value uint32, ok bool) {
	raw, ok := Find(records, tag)
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(raw), true
}
