/*
File Name:  Chunker.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Chunked-transfer facility shared by two outer wire flows: plaintext FileTransfer (metadata packet
plus N Fragment packets carrying 180-byte slices of a file) and TransactionChunks, the fragmented
form of an oversized encrypted application payload (metadata packet plus N Fragment packets
carrying 400-byte slices of ciphertext, only used once the ciphertext exceeds 450 bytes). Both
reassemble by concatenating chunks in ascending chunkIndex order; receivers must not assume
in-order arrival.
*/

package chunker

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

const (
	// FileFragmentSize is the maximum payload per Fragment packet for a file transfer.
	FileFragmentSize = 180

	// OpaqueFragmentSize is the maximum payload per Fragment packet for an oversized encrypted
	// application payload.
	OpaqueFragmentSize = 400

	// OpaqueFragmentThreshold is the ciphertext size above which an encrypted payload must be
	// fragmented via OpaqueAppMessageMetadata + Fragment rather than sent as a single
	// EncryptedEnvelope packet.
	OpaqueFragmentThreshold = 450

	// FragmentPacingDelay is the delay inserted between successive outbound fragments of the same
	// transfer, to accommodate slow radios.
	FragmentPacingDelay = 50 * time.Millisecond
)

// ErrUnknownTransfer is returned when a fragment references a transfer ID the receiver has not
// seen a metadata packet for.
var ErrUnknownTransfer = errors.New("chunker: unknown transfer ID")

// ErrChunkIndexOutOfRange is returned when a fragment's chunkIndex exceeds the announced total.
var ErrChunkIndexOutOfRange = errors.New("chunker: chunk index out of range")

func ceilDiv(total, size int) uint32 {
	if total == 0 {
		return 0
	}
	return uint32((total + size - 1) / size)
}

// Checksum returns a short BLAKE3 digest of a reassembled buffer. It is not carried on the wire;
// the receiver computes it after reassembly and reports it with the delivered payload so hosts
// on both ends can compare transfers without re-reading the data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// SplitFile divides file data into FileFragmentSize pieces for a FileTransferMetadata +
// Fragment sequence.
func SplitFile(data []byte) [][]byte {
	return split(data, FileFragmentSize)
}

// SplitOpaque divides an encrypted payload into OpaqueFragmentSize pieces for an
// OpaqueAppMessageMetadata + Fragment sequence. Callers must only invoke this once the
// ciphertext exceeds OpaqueFragmentThreshold; smaller payloads are sent as a single
// EncryptedEnvelope.
func SplitOpaque(ciphertext []byte) [][]byte {
	return split(ciphertext, OpaqueFragmentSize)
}

func split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// Kind distinguishes the two chunked-transfer variants that share the Fragment wire type.
type Kind int

const (
	// KindFile is a plaintext file transfer (FileTransferMetadata + Fragment).
	KindFile Kind = iota
	// KindOpaque is a fragmented oversized encrypted application payload
	// (OpaqueAppMessageMetadata + Fragment), reassembled then decrypted as an EncryptedEnvelope.
	KindOpaque
)

// PendingTransfer tracks the reassembly state of one inbound chunked transfer, file or opaque.
type PendingTransfer struct {
	Kind       Kind
	TransferID string
	Sender     [8]byte

	// File-only metadata.
	FileName string
	FileSize uint64
	MimeType string

	// Opaque-only metadata.
	TotalSize uint64

	Total uint32

	chunks  map[uint32][]byte
	expires time.Time
}

// ReceivedCount returns how many distinct chunks have arrived so far.
func (t *PendingTransfer) ReceivedCount() int {
	return len(t.chunks)
}

// Complete reports whether every chunk from 0..Total-1 has arrived.
func (t *PendingTransfer) Complete() bool {
	return uint32(len(t.chunks)) == t.Total
}

// Assemble concatenates chunks in ascending chunkIndex order. Only valid once Complete returns
// true.
func (t *PendingTransfer) Assemble() []byte {
	var out []byte
	for i := uint32(0); i < t.Total; i++ {
		out = append(out, t.chunks[i]...)
	}
	return out
}

// Checksum returns a short diagnostic digest of the reassembled buffer. Only valid once Complete
// returns true.
func (t *PendingTransfer) Checksum() string {
	return Checksum(t.Assemble())
}

// Manager tracks all in-flight inbound chunked transfers for a node, keyed by transfer ID. A
// transfer that receives no fragment within its TTL is evicted by the background sweep; the
// baseline protocol has no retransmission or negative-ack, so this is purely a memory bound.
type Manager struct {
	ttl time.Duration

	mutex     sync.Mutex
	transfers map[string]*PendingTransfer

	stop chan struct{}
}

// NewManager creates a transfer manager with the given per-transfer TTL.
func NewManager(ttl time.Duration) *Manager {
	m := &Manager{
		ttl:       ttl,
		transfers: make(map[string]*PendingTransfer),
		stop:      make(chan struct{}),
	}
	go m.sweepExpired()
	return m
}

func (m *Manager) sweepExpired() {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mutex.Lock()
			for id, transfer := range m.transfers {
				if now.After(transfer.expires) {
					delete(m.transfers, id)
				}
			}
			m.mutex.Unlock()
		}
	}
}

// OfferFile registers a new incoming file transfer announced by a FileTransferMetadata payload.
func (m *Manager) OfferFile(transferID string, sender [8]byte, fileName string, fileSize uint64, mimeType string, total uint32) *PendingTransfer {
	transfer := &PendingTransfer{
		Kind:       KindFile,
		TransferID: transferID,
		Sender:     sender,
		FileName:   fileName,
		FileSize:   fileSize,
		MimeType:   mimeType,
		Total:      total,
		chunks:     make(map[uint32][]byte),
	}
	m.register(transfer)
	return transfer
}

// OfferOpaque registers a new incoming oversized encrypted payload announced by an
// OpaqueAppMessageMetadata payload.
func (m *Manager) OfferOpaque(transferID string, sender [8]byte, totalSize uint64, total uint32) *PendingTransfer {
	transfer := &PendingTransfer{
		Kind:       KindOpaque,
		TransferID: transferID,
		Sender:     sender,
		TotalSize:  totalSize,
		Total:      total,
		chunks:     make(map[uint32][]byte),
	}
	m.register(transfer)
	return transfer
}

func (m *Manager) register(transfer *PendingTransfer) {
	transfer.expires = time.Now().Add(m.ttl)
	m.mutex.Lock()
	m.transfers[transfer.TransferID] = transfer
	m.mutex.Unlock()
}

// AddChunk records one Fragment of a known transfer. A fragment for a transfer ID with no prior
// metadata packet is reported via ErrUnknownTransfer so the caller can log and drop it.
func (m *Manager) AddChunk(transferID string, index uint32, data []byte) (*PendingTransfer, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	transfer, ok := m.transfers[transferID]
	if !ok {
		return nil, ErrUnknownTransfer
	}
	if index >= transfer.Total {
		return nil, ErrChunkIndexOutOfRange
	}

	transfer.chunks[index] = append([]byte(nil), data...)
	transfer.expires = time.Now().Add(m.ttl)

	return transfer, nil
}

// Get returns the transfer for an ID, if still tracked.
func (m *Manager) Get(transferID string) (*PendingTransfer, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	transfer, ok := m.transfers[transferID]
	return transfer, ok
}

// Finish removes a completed or abandoned transfer from tracking.
func (m *Manager) Finish(transferID string) {
	m.mutex.Lock()
	delete(m.transfers, transferID)
	m.mutex.Unlock()
}

// Close stops the background expiry sweep.
func (m *Manager) Close() {
	close(m.stop)
}
