package wire

import (
	"testing"

	"pygase/sqn"
)

func TestHeaderSymmetry(t *testing.T) {
	seq, _ := sqn.New(100)
	ack, _ := sqn.New(99)
	h := Header{Sequence: seq, Ack: ack, AckBitfield: 0xdeadbeef}
	encoded := h.Encode()
	decoded, n, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, h)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	bad := []byte{0x00, 0x00, 0x00, 0x00, 0, 1, 0, 2, 0, 0, 0, 0}
	if _, _, err := DecodeHeader(bad); err != ErrProtocolIDMismatch {
		t.Fatalf("expected ErrProtocolIDMismatch, got %v", err)
	}
}

func TestDecodeHeaderRejectsTruncated(t *testing.T) {
	if _, _, err := DecodeHeader(Magic[:]); err == nil {
		t.Fatalf("expected parse error for truncated header")
	}
}
