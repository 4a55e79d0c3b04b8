package header_test

import (
	"bytes"
	"testing"

	"github.com/nullbridge/pseudotcp/header"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &header.Fields{
		Conv:      7,
		Seq:       1000,
		Ack:       2000,
		Flags:     header.FlagCtl,
		Window:    1234,
		Timestamp: 555,
		TsEcho:    999,
	}
	payload := []byte("hello pseudotcp")

	buf := make([]byte, header.Size+len(payload))
	n := header.Encode(buf, f, payload)
	if n != len(buf) {
		t.Fatalf("Encode() = %d, want %d", n, len(buf))
	}

	got, ok := header.Decode(buf)
	if !ok {
		t.Fatalf("Decode() failed")
	}
	if got != *f {
		t.Fatalf("Decode() = %+v, want %+v", got, *f)
	}

	pkt := header.PseudoTCP(buf)
	if !bytes.Equal(pkt.Payload(), payload) {
		t.Fatalf("Payload() = %q, want %q", pkt.Payload(), payload)
	}
	if pkt.Conversation() != f.Conv {
		t.Fatalf("Conversation() = %d, want %d", pkt.Conversation(), f.Conv)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, ok := header.Decode(make([]byte, 4)); ok {
		t.Fatalf("Decode() of a too-short packet should fail")
	}
}

func TestDecodePartialHeader(t *testing.T) {
	// Exactly MinimumParseableSize bytes: conv/seq/ack are readable but
	// flags/window/timestamps default to zero.
	b := make([]byte, header.MinimumParseableSize)
	f := &header.Fields{Conv: 1, Seq: 2, Ack: 3}
	full := make([]byte, header.Size)
	header.Encode(full, f, nil)
	copy(b, full[:header.MinimumParseableSize])

	got, ok := header.Decode(b)
	if !ok {
		t.Fatalf("Decode() of minimum-size packet should succeed")
	}
	if got.Conv != 1 || got.Seq != 2 || got.Ack != 3 {
		t.Fatalf("Decode() = %+v", got)
	}
	if got.Flags != 0 || got.Window != 0 {
		t.Fatalf("expected zero-filled trailing fields, got %+v", got)
	}
}
