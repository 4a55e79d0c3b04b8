package pseudotcp

import (
	"testing"
	"time"

	"github.com/nullbridge/pseudotcp/header"
	"github.com/nullbridge/pseudotcp/seqnum"
)

type capturingNotifier struct {
	packets [][]byte
}

func (n *capturingNotifier) OnOpen(*Conn)          {}
func (n *capturingNotifier) OnReadable(*Conn)      {}
func (n *capturingNotifier) OnWriteable(*Conn)     {}
func (n *capturingNotifier) OnClosed(*Conn, error) {}
func (n *capturingNotifier) WritePacket(c *Conn, b []byte) WriteResult {
	cp := make([]byte, len(b))
	copy(cp, b)
	n.packets = append(n.packets, cp)
	return WriteSuccess
}

func newTestConn() (*Conn, *capturingNotifier) {
	notifier := &capturingNotifier{}
	now := time.Unix(1700000000, 0)
	c := NewConn(Config{Conv: 7, Clock: func() time.Time { return now }}, notifier)
	c.state = StateEstablished
	return c, notifier
}

func TestSenderQueueCoalescesAdjacentSegments(t *testing.T) {
	c, _ := newTestConn()
	c.snd.queue([]byte("abc"), false)
	c.snd.queue([]byte("def"), false)

	if c.snd.list.Front() != c.snd.list.Back() {
		t.Fatalf("expected queue() to coalesce into a single segment")
	}
	seg := asSendSegment(c.snd.list.Front())
	if seg.len != 6 {
		t.Fatalf("segment len = %d, want 6", seg.len)
	}
}

func TestSenderQueueDoesNotCoalesceAfterTransmit(t *testing.T) {
	c, _ := newTestConn()
	c.snd.queue([]byte("abc"), false)
	c.snd.attemptSend(sendNormal, c.now())
	c.snd.queue([]byte("def"), false)

	if c.snd.list.Front() == c.snd.list.Back() {
		t.Fatalf("expected a second descriptor once the first was already transmitted")
	}
}

func TestSenderQueueCtrlCarriesPayloadWithoutConsumingBuffer(t *testing.T) {
	c, notifier := newTestConn()
	c.snd.queue([]byte{header.CtlConnect, 0x01, 0x02}, true)
	c.snd.queue([]byte("hello"), false)
	c.snd.attemptSend(sendImmediate, c.now())

	if len(notifier.packets) != 1 {
		t.Fatalf("packets sent = %d, want 1", len(notifier.packets))
	}
	got := notifier.packets[0][header.Size:]
	if string(got) != string([]byte{header.CtlConnect, 0x01, 0x02}) {
		t.Fatalf("ctrl payload = %v, want CONNECT option bytes", got)
	}
	if n := c.snd.buf.Len(); n != 5 {
		t.Fatalf("send buffer Len() = %d, want 5 (ctrl segment must not consume buf)", n)
	}
}

func TestAttemptSendSplitsOnNarrowWindow(t *testing.T) {
	c, notifier := newTestConn()
	c.snd.cwnd = 4
	c.snd.wnd = 4
	c.snd.mss = 100

	c.snd.queue([]byte("abcdefgh"), false)
	c.snd.attemptSend(sendNormal, c.now())

	if len(notifier.packets) != 1 {
		t.Fatalf("packets sent = %d, want 1", len(notifier.packets))
	}
	if got := len(notifier.packets[0]) - header.Size; got != 4 {
		t.Fatalf("first transmitted chunk = %d bytes, want 4", got)
	}
}

func TestHandleDupAckTriggersFastRetransmit(t *testing.T) {
	c, notifier := newTestConn()
	c.snd.cwnd = 100000
	c.snd.wnd = 100000
	c.snd.mss = 100

	c.snd.queue([]byte("segment-one"), false)
	c.snd.attemptSend(sendNormal, c.now())
	if len(notifier.packets) != 1 {
		t.Fatalf("setup: expected 1 transmitted segment, got %d", len(notifier.packets))
	}

	dup := inboundSegment{ack: c.snd.una, window: 100}
	c.snd.handleAck(dup, c.now())
	c.snd.handleAck(dup, c.now())
	before := len(notifier.packets)
	c.snd.handleAck(dup, c.now())

	if !c.snd.inRecovery {
		t.Fatalf("expected fast recovery to engage on the third duplicate ack")
	}
	if len(notifier.packets) <= before {
		t.Fatalf("expected a retransmission on the third duplicate ack")
	}
}

func TestHandleAckRetiresSegmentsAndGrowsWindow(t *testing.T) {
	c, _ := newTestConn()
	c.snd.cwnd = 2 * c.snd.mss
	c.snd.ssthresh = 1 << 20
	c.snd.wnd = seqnum.Size(c.snd.mss * 10)

	c.snd.queue([]byte("abcdef"), false)
	c.snd.attemptSend(sendNormal, c.now())

	cwndBefore := c.snd.cwnd
	ack := inboundSegment{ack: seqnum.Value(6), window: seqnum.Size(c.snd.mss * 10)}
	c.snd.handleAck(ack, c.now())

	if c.snd.una != 6 {
		t.Fatalf("una = %v, want 6", c.snd.una)
	}
	if c.snd.bytesInFlight() != 0 {
		t.Fatalf("bytesInFlight = %d, want 0", c.snd.bytesInFlight())
	}
	if c.snd.cwnd <= cwndBefore {
		t.Fatalf("expected slow start to grow cwnd past %d, got %d", cwndBefore, c.snd.cwnd)
	}
}

func TestRTOBackoffRetransmitsAndDoublesTimeout(t *testing.T) {
	c, notifier := newTestConn()
	c.snd.cwnd = 1000
	c.snd.wnd = 1000
	c.snd.mss = 100

	c.snd.queue([]byte("abc"), false)
	now := c.now()
	c.snd.attemptSend(sendNormal, now)
	sentBefore := len(notifier.packets)

	rtoBefore := c.snd.rto
	later := now.Add(c.snd.rto + time.Millisecond)
	c.snd.checkRTO(later)

	if len(notifier.packets) <= sentBefore {
		t.Fatalf("expected a retransmission once the RTO expired")
	}
	if c.snd.rto <= rtoBefore {
		t.Fatalf("expected RTO to back off exponentially, got %v (was %v)", c.snd.rto, rtoBefore)
	}
	if c.snd.cwnd > c.snd.mss {
		t.Fatalf("expected cwnd to collapse to one segment after RTO, got %d", c.snd.cwnd)
	}
}
