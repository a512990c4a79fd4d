package chunker

import (
	"bytes"
	"testing"
	"time"
)

func TestSplitFileAndAssembleRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, FileFragmentSize*3+17)
	chunks := SplitFile(data)

	wantChunks := int(ceilDiv(len(data), FileFragmentSize))
	if len(chunks) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(chunks))
	}

	manager := NewManager(time.Minute)
	defer manager.Close()

	var sender [8]byte
	transfer := manager.OfferFile("t1", sender, "file.bin", uint64(len(data)), "application/octet-stream", uint32(len(chunks)))

	for i, chunk := range chunks {
		if _, err := manager.AddChunk(transfer.TransferID, uint32(i), chunk); err != nil {
			t.Fatalf("AddChunk(%d) failed: %v", i, err)
		}
	}

	got, ok := manager.Get("t1")
	if !ok {
		t.Fatalf("expected transfer to be tracked")
	}
	if !got.Complete() {
		t.Fatalf("expected transfer to be complete")
	}
	if !bytes.Equal(got.Assemble(), data) {
		t.Fatalf("reassembled data does not match original")
	}
}

func TestNineHundredByteFileIsFiveChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 900)
	chunks := SplitFile(data)
	if len(chunks) != 5 {
		t.Fatalf("expected ceil(900/180)=5 chunks, got %d", len(chunks))
	}
}

func TestSplitOpaqueRespectsFragmentSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x09}, 1500)
	chunks := SplitOpaque(data)
	wantChunks := int(ceilDiv(len(data), OpaqueFragmentSize))
	if len(chunks) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(chunks))
	}
	for i, c := range chunks {
		if i != len(chunks)-1 && len(c) != OpaqueFragmentSize {
			t.Fatalf("chunk %d: expected full %d-byte chunk, got %d", i, OpaqueFragmentSize, len(c))
		}
	}
}

func TestOpaqueReassemblyOutOfOrder(t *testing.T) {
	data := bytes.Repeat([]byte{0x07}, OpaqueFragmentSize*3+5)
	chunks := SplitOpaque(data)

	manager := NewManager(time.Minute)
	defer manager.Close()

	var sender [8]byte
	transfer := manager.OfferOpaque("tx1", sender, uint64(len(data)), uint32(len(chunks)))

	// Feed fragments in reverse order; reassembly must still index by chunkIndex.
	for i := len(chunks) - 1; i >= 0; i-- {
		if _, err := manager.AddChunk(transfer.TransferID, uint32(i), chunks[i]); err != nil {
			t.Fatalf("AddChunk(%d) failed: %v", i, err)
		}
	}

	got, _ := manager.Get("tx1")
	if !got.Complete() {
		t.Fatalf("expected transfer to be complete")
	}
	if !bytes.Equal(got.Assemble(), data) {
		t.Fatalf("out-of-order reassembly does not match original")
	}
}

func TestAddChunkUnknownTransfer(t *testing.T) {
	manager := NewManager(time.Minute)
	defer manager.Close()

	if _, err := manager.AddChunk("missing", 0, []byte("x")); err != ErrUnknownTransfer {
		t.Fatalf("expected ErrUnknownTransfer, got %v", err)
	}
}

func TestAddChunkOutOfRange(t *testing.T) {
	manager := NewManager(time.Minute)
	defer manager.Close()

	var sender [8]byte
	manager.OfferFile("t2", sender, "file.bin", 10, "application/octet-stream", 1)

	if _, err := manager.AddChunk("t2", 5, []byte("x")); err != ErrChunkIndexOutOfRange {
		t.Fatalf("expected ErrChunkIndexOutOfRange, got %v", err)
	}
}

func TestStaleTransferIsEvicted(t *testing.T) {
	manager := NewManager(30 * time.Millisecond)
	defer manager.Close()

	var sender [8]byte
	manager.OfferFile("t3", sender, "file.bin", 10, "application/octet-stream", 2)

	time.Sleep(150 * time.Millisecond)

	if _, ok := manager.Get("t3"); ok {
		t.Fatalf("expected stale transfer to be evicted")
	}
}

func TestChecksumStableAcrossCalls(t *testing.T) {
	manager := NewManager(time.Minute)
	defer manager.Close()

	var sender [8]byte
	transfer := manager.OfferFile("t4", sender, "file.bin", 4, "application/octet-stream", 1)
	manager.AddChunk(transfer.TransferID, 0, []byte("data"))

	got, _ := manager.Get("t4")
	if got.Checksum() != got.Checksum() {
		t.Fatalf("expected checksum to be stable")
	}
}
