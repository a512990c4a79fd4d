package protocol

import (
	"bytes"
	"testing"
)

func TestTLVRoundTrip(t *testing.T) {
	var buf []byte
	buf = EncodeTLV(buf, PrivateMessageTagID, []byte("m1"))
	buf = EncodeTLV(buf, PrivateMessageTagContent, []byte("hi there"))

	records, err := DecodeTLV(buf)
	if err != nil {
		t.Fatalf("DecodeTLV failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	content, ok := Find(records, PrivateMessageTagContent)
	if !ok || !bytes.Equal(content, []byte("hi there")) {
		t.Fatalf("content mismatch: %q ok=%v", content, ok)
	}
}

func TestTLVUint32RoundTrip(t *testing.T) {
	var buf []byte
	buf = EncodeTLVUint32(buf, FragmentTagChunkIndex, 42)

	records, err := DecodeTLV(buf)
	if err != nil {
		t.Fatalf("DecodeTLV failed: %v", err)
	}

	got, ok := FindUint32(records, FragmentTagChunkIndex)
	if !ok || got != 42 {
		t.Fatalf("expected 42, got %d ok=%v", got, ok)
	}
}

func TestTLVUnknownTagsSkipped(t *testing.T) {
	var buf []byte
	buf = EncodeTLV(buf, Tag(0xEE), []byte("unknown"))
	buf = EncodeTLV(buf, PrivateMessageTagID, []byte("m1"))

	records, err := DecodeTLV(buf)
	if err != nil {
		t.Fatalf("DecodeTLV failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both records including the unknown tag, got %d", len(records))
	}
	id, ok := Find(records, PrivateMessageTagID)
	if !ok || string(id) != "m1" {
		t.Fatalf("expected known tag to still be found after an unknown one, got %q ok=%v", id, ok)
	}
}

func TestTLVTruncated(t *testing.T) {
	if _, err := DecodeTLV([]byte{0x02}); err != ErrTruncatedTLV {
		t.Fatalf("expected ErrTruncatedTLV, got %v", err)
	}
}
