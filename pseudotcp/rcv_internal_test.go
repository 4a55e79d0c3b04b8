package pseudotcp

import (
	"testing"

	"github.com/nullbridge/pseudotcp/seqnum"
)

func newTestReceiver(bufSize int) *receiver {
	return newReceiver(&Conn{ackDelay: 0}, seqnum.Value(0), bufSize)
}

func TestReceiverInOrder(t *testing.T) {
	r := newTestReceiver(1024)

	flags := r.process(inboundSegment{seq: 0, payload: []byte("hello")}, false)
	if flags != ackImmediate {
		t.Fatalf("ackDelay=0 in-order data should ack immediately, got %v", flags)
	}
	if r.nxt != 5 {
		t.Fatalf("nxt = %v, want 5", r.nxt)
	}

	buf := make([]byte, 16)
	n := r.Read(buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "hello")
	}
}

func TestReceiverOutOfOrderThenFill(t *testing.T) {
	r := newTestReceiver(1024)

	flags := r.process(inboundSegment{seq: 5, payload: []byte("world")}, false)
	if flags != ackImmediate {
		t.Fatalf("gap segment should ack immediately, got %v", flags)
	}
	if r.nxt != 0 {
		t.Fatalf("nxt advanced on out-of-order segment: %v", r.nxt)
	}

	flags = r.process(inboundSegment{seq: 0, payload: []byte("hello")}, false)
	if flags != ackImmediate {
		t.Fatalf("fill segment should escalate to immediate ack after reassembly, got %v", flags)
	}
	if r.nxt != 10 {
		t.Fatalf("nxt = %v, want 10 after reassembly", r.nxt)
	}

	buf := make([]byte, 16)
	n := r.Read(buf)
	if string(buf[:n]) != "helloworld" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "helloworld")
	}
}

func TestReceiverDuplicateSegmentIgnored(t *testing.T) {
	r := newTestReceiver(1024)

	r.process(inboundSegment{seq: 0, payload: []byte("hello")}, false)
	flags := r.process(inboundSegment{seq: 0, payload: []byte("hello")}, false)
	if flags != ackImmediate {
		t.Fatalf("duplicate segment not at nxt should ack immediately, got %v", flags)
	}
	if r.nxt != 5 {
		t.Fatalf("nxt moved on duplicate: %v", r.nxt)
	}
	if r.buf.Len() != 5 {
		t.Fatalf("buffered len = %d, want 5 (duplicate must not double-write)", r.buf.Len())
	}
}

func TestReceiverTrimsToWindow(t *testing.T) {
	r := newTestReceiver(4)

	flags := r.process(inboundSegment{seq: 0, payload: []byte("hello")}, false)
	if flags != ackImmediate {
		t.Fatalf("flags = %v, want ackImmediate", flags)
	}
	if r.nxt != 4 {
		t.Fatalf("nxt = %v, want 4 (only room for 4 bytes)", r.nxt)
	}
}

func TestReceiverIgnoreDataStillAdvancesInOrder(t *testing.T) {
	r := newTestReceiver(1024)

	r.process(inboundSegment{seq: 0, payload: []byte("xx")}, true)
	if r.nxt != 2 {
		t.Fatalf("nxt = %v, want 2 even with ignoreData", r.nxt)
	}
	if r.buf.Len() != 0 {
		t.Fatalf("ignoreData must not write bytes, got Len()=%d", r.buf.Len())
	}
}

func TestReceiverDelayedAckOnCleanData(t *testing.T) {
	r := newTestReceiver(1024)
	r.c.ackDelay = 1

	flags := r.process(inboundSegment{seq: 0, payload: []byte("a")}, false)
	if flags != ackDelayed {
		t.Fatalf("flags = %v, want ackDelayed", flags)
	}
}

func TestReceiverEmptyInOrderNeedsNoAck(t *testing.T) {
	r := newTestReceiver(1024)
	flags := r.process(inboundSegment{seq: 0}, false)
	if flags != ackNone {
		t.Fatalf("flags = %v, want ackNone", flags)
	}
}
