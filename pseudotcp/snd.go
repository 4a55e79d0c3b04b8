package pseudotcp

import (
	"time"

	"github.com/nullbridge/pseudotcp/buffer"
	"github.com/nullbridge/pseudotcp/header"
	"github.com/nullbridge/pseudotcp/ilist"
	"github.com/nullbridge/pseudotcp/seqnum"
)

// sender holds everything needed to turn a stream of queued bytes into
// transmitted, acknowledged, retransmitted segments: the send buffer and its
// exact partition into segment descriptors, the congestion and RTO state
// machines, and the bookkeeping NewReno fast recovery needs.
type sender struct {
	c *Conn

	buf  *buffer.FIFO
	list ilist.List // *sendSegment, in seq order, exactly partitions buf

	una seqnum.Value // oldest unacknowledged sequence number
	nxt seqnum.Value // next sequence number to allocate to queued bytes
	wnd seqnum.Size  // peer's last advertised receive window

	mss int // current max segment size, stepped down by the MTU ladder

	// Congestion control (slow start / congestion avoidance / NewReno).
	cwnd        int
	ssthresh    int
	dupAcks     int
	recover     seqnum.Value // highest nxt at the time fast recovery began
	inRecovery  bool
	largest     seqnum.Value // highest sequence number ever acked; observability only

	// RTO estimation (Jacobson/Karels, RFC 6298). RTT samples come from the
	// peer's echoed timestamp (seg.tsecr) on every new ack, not from any
	// local bookkeeping of which segment triggered it.
	srtt       time.Duration
	rttvar     time.Duration
	rto        time.Duration
	srttInited bool

	lastSendTime time.Time
	rtoBase      time.Time // when the current retransmit timer started running
	rtoArmed     bool
}

func newSender(c *Conn, iss seqnum.Value, bufSize, mss int) *sender {
	return &sender{
		c:        c,
		buf:      buffer.NewFIFO(bufSize),
		una:      iss,
		nxt:      iss,
		wnd:      seqnum.Size(mss),
		mss:      mss,
		cwnd:     2 * mss,
		ssthresh: 0xffff << 16,
		rto:      defRTO,
	}
}

// queue appends data (or a single zero-length control slot, if isCtrl) to
// the send buffer and extends the segment list to cover it, coalescing into
// the trailing segment when possible so attemptSend has fewer, larger
// segments to consider.
func (s *sender) queue(data []byte, isCtrl bool) int {
	if isCtrl {
		s.list.PushBack(&sendSegment{seq: s.nxt, isCtrl: true, ctrlData: data})
		s.nxt = s.nxt.Add(1)
		return len(data)
	}

	avail := s.buf.Avail()
	if avail <= 0 {
		return 0
	}
	if len(data) > avail {
		data = data[:avail]
	}
	n := s.buf.Append(data)
	if n == 0 {
		return 0
	}

	if back := asSendSegment(s.list.Back()); back != nil && !back.isCtrl && back.xmitCount == 0 && back.end() == s.nxt {
		back.len += n
	} else {
		s.list.PushBack(&sendSegment{seq: s.nxt, len: n})
	}
	s.nxt = s.nxt.Add(seqnum.Size(n))
	return n
}

// bytesInFlight is the number of bytes sent but not yet acknowledged.
func (s *sender) bytesInFlight() int {
	if seg := s.firstSendable(); seg != nil {
		return int(s.una.Size(seg.seq))
	}
	return int(s.una.Size(s.nxt))
}

// congestionWindowEffective is cwnd inflated by Limited Transmit: the first
// two duplicate acks each license one more mss of data as if cwnd-permitted,
// without changing cwnd itself.
func (s *sender) congestionWindowEffective() int {
	cwnd := s.cwnd
	if s.dupAcks == 1 || s.dupAcks == 2 {
		cwnd += s.dupAcks * s.mss
	}
	return cwnd
}

// effectiveWindow is the smaller of the (Limited-Transmit-inflated)
// congestion window and the peer's advertised receive window, in bytes,
// minus what is already in flight.
func (s *sender) effectiveWindow() int {
	w := s.congestionWindowEffective()
	if int(s.wnd) < w {
		w = int(s.wnd)
	}
	w -= s.bytesInFlight()
	if w < 0 {
		w = 0
	}
	return w
}

// sendFlags requests extra behavior from attemptSend beyond "send what the
// window allows".
type sendFlags int

const (
	sendNormal sendFlags = iota
	// sendImmediate forces at least one segment out even if SWS avoidance
	// or Nagle would otherwise hold it back (used to put the CONNECT
	// segment on the wire).
	sendImmediate
)

// attemptSend transmits as many queued segments as the window, Silly Window
// Syndrome avoidance, and Nagle's algorithm allow, splitting the trailing
// segment in place when only part of it fits.
func (s *sender) attemptSend(flags sendFlags, now time.Time) {
	if s.c.state != StateEstablished && s.c.state != StateSynReceived && s.c.state != StateSynSent {
		return
	}

	// Idle reset: a send gap longer than the current RTO means whatever
	// congestion state we had is stale, so collapse back to one segment.
	if !s.lastSendTime.IsZero() && now.Sub(s.lastSendTime) > s.rto {
		s.cwnd = s.mss
	}

	for {
		rawWindow := s.congestionWindowEffective()
		if int(s.wnd) < rawWindow {
			rawWindow = int(s.wnd)
		}
		useable := rawWindow - s.bytesInFlight()
		if useable < 0 {
			useable = 0
		}
		if useable <= 0 && flags != sendImmediate {
			break
		}

		seg := s.firstSendable()
		if seg == nil {
			break
		}

		segLen := seg.len
		if !seg.isCtrl && segLen == 0 {
			break
		}

		if flags != sendImmediate {
			if !seg.isCtrl && segLen > s.mss {
				segLen = s.mss
			}
			if !seg.isCtrl && segLen > useable {
				// Silly Window Syndrome avoidance (RFC 813): hold back a
				// partial segment unless the useable window is at least a
				// quarter of the full window, or the segment is the last
				// one currently queued.
				if useable*4 < rawWindow && seg.end() != s.nxt {
					break
				}
				segLen = useable
			}
			if segLen == 0 && !seg.isCtrl {
				break
			}
			// Nagle: hold back a short segment while earlier data is
			// still unacknowledged.
			if !s.c.noDelay && !seg.isCtrl && segLen < s.mss && s.bytesInFlight() > 0 {
				break
			}
			if !seg.isCtrl && segLen < seg.len {
				tail := seg.split(segLen)
				s.list.InsertAfter(seg, tail)
			}
		}

		s.transmit(seg, now)
		if flags == sendImmediate || seg.xmitCount == 0 || s.c.state == StateClosed {
			// Immediate mode sends one segment; a failed write or an
			// aborted connection leaves the rest for a later attempt.
			break
		}
	}
}

// firstSendable returns the earliest segment that has never been
// transmitted, or nil if every queued segment has gone out at least once.
// Retransmission of the head-of-line segment goes through retransmitHead.
func (s *sender) firstSendable() *sendSegment {
	for e := s.list.Front(); e != nil; e = e.Next() {
		seg := asSendSegment(e)
		if seg.xmitCount == 0 {
			return seg
		}
	}
	return nil
}

// maxXmitCount is the retransmit cap for a segment: fewer retries are
// tolerated once established, since a stalled handshake is cheaper to just
// retry from scratch than a stalled stream carrying application data.
func (s *sender) maxXmitCount() int {
	if s.c.state == StateEstablished {
		return maxXmitEstablished
	}
	return maxXmitPreEstablished
}

// transmit sends a single segment, stepping down the MTU ladder on
// WriteTooLarge and splitting the segment to fit the new, smaller MSS.
// Exceeding the retransmit cap, or exhausting the MTU ladder, aborts the
// connection outright rather than silently dropping the segment.
func (s *sender) transmit(seg *sendSegment, now time.Time) {
	if seg.xmitCount >= s.maxXmitCount() {
		s.c.enterClosed(ErrConnectionAborted)
		return
	}

	for {
		var payload []byte
		if seg.isCtrl {
			payload = seg.ctrlData
		} else if seg.len > 0 {
			payload = make([]byte, seg.len)
			// Control slots ahead of seg consume a sequence number but no
			// byte of buf.
			off := int(s.una.Size(seg.seq))
			for e := s.list.Front(); e != nil && e != ilist.Linker(seg); e = e.Next() {
				if asSendSegment(e).isCtrl {
					off--
				}
			}
			s.buf.ReadAt(off, payload)
		}

		res := s.c.emit(seg.seq, flagsFor(seg), payload, now)
		switch res {
		case WriteSuccess:
			s.onTransmitted(seg, now)
			return
		case WriteTooLarge:
			if !s.c.stepDownMTU() {
				s.c.enterClosed(ErrConnectionAborted)
				return
			}
			if seg.len > s.mss {
				tail := seg.split(s.mss)
				s.list.InsertAfter(seg, tail)
			}
			continue
		default: // WriteFail
			return
		}
	}
}

func flagsFor(seg *sendSegment) uint8 {
	if seg.isCtrl {
		return header.FlagCtl
	}
	return 0
}

func (s *sender) onTransmitted(seg *sendSegment, now time.Time) {
	seg.xmitCount++
	s.lastSendTime = now

	if !s.rtoArmed {
		s.rtoBase = now
		s.rtoArmed = true
	}
}

// handleAck applies an incoming cumulative ack (and, implicitly, the
// window it advertises) to the send state: it retires acknowledged
// segments, updates the congestion window per slow start / congestion
// avoidance / NewReno fast recovery, and feeds a clean RTT sample to the
// RTO estimator when one is available.
func (s *sender) handleAck(seg inboundSegment, now time.Time) {
	ack := seg.ack
	s.wnd = seg.window << s.c.swndScale

	if !ack.InRange(s.una, s.nxt.Add(1)) {
		// Stale or bogus ack, outside [una, nxt]; ignore.
		return
	}

	if s.largest.LessThan(ack) {
		s.largest = ack
		s.c.recorder.ObserveLargestAcked(ack)
	}

	if ack == s.una {
		// Only a pure ack (no piggybacked data) counts as a duplicate: a
		// data segment that happens to carry the same cumulative ack as
		// before is just the peer's half of a bidirectional stream, not a
		// signal that our data went missing.
		if len(seg.payload) == 0 && s.bytesInFlight() > 0 {
			s.handleDupAck(now)
		}
		return
	}

	acked := int(s.una.Size(ack))
	dataRetired := s.retireSegments(ack)
	s.advanceBuffer(dataRetired)
	s.una = ack

	s.dupAcks = 0
	if s.inRecovery {
		if s.recover.LessThan(ack) || s.recover == ack {
			s.inRecovery = false
			s.cwnd = s.ssthresh
		} else {
			// Partial ack within recovery: deflate by the amount acked and
			// retransmit the new head immediately (NewReno).
			s.cwnd -= acked
			if s.cwnd < s.mss {
				s.cwnd = s.mss
			}
			s.retransmitHead(now)
		}
	} else if s.cwnd < s.ssthresh {
		s.cwnd += acked // slow start
	} else {
		// Congestion avoidance: increase by at most one MSS per RTT.
		s.cwnd += s.mss * acked / s.cwnd
	}

	s.c.recorder.ObserveCongestionWindow(s.cwnd)
	s.c.recorder.ObserveSlowStartThreshold(s.ssthresh)
	s.c.recorder.ObserveBytesInFlight(s.bytesInFlight())

	s.sampleRTT(seg.tsecr, now)

	if s.bytesInFlight() == 0 {
		s.rtoArmed = false
	} else {
		s.rtoBase = now
	}

	if s.firstSendable() != nil {
		s.attemptSend(sendNormal, now)
	}
}

// handleDupAck implements fast retransmit / fast recovery: three duplicate
// acks (Limited Transmit having already let two more segments out) trigger
// an immediate retransmit of the lost segment and entry into recovery,
// halving the window per NewReno.
func (s *sender) handleDupAck(now time.Time) {
	s.dupAcks++
	switch {
	case s.dupAcks < 3:
		// Limited Transmit: a new segment may go out for each of the
		// first two duplicate acks, as if it were cwnd-permitted.
		s.attemptSend(sendNormal, now)
	case s.dupAcks == 3:
		s.ssthresh = s.bytesInFlight() / 2
		if s.ssthresh < 2*s.mss {
			s.ssthresh = 2 * s.mss
		}
		s.recover = s.nxt
		s.inRecovery = true
		s.cwnd = s.ssthresh + 3*s.mss
		s.c.recorder.ObserveFastRetransmit()
		s.retransmitHead(now)
	default:
		if s.inRecovery {
			s.cwnd += s.mss
			s.attemptSend(sendNormal, now)
		}
	}
}

// retransmitHead forces the oldest outstanding segment back out regardless
// of the congestion window, used by fast retransmit and RTO expiry.
func (s *sender) retransmitHead(now time.Time) {
	seg := asSendSegment(s.list.Front())
	if seg == nil {
		return
	}
	s.transmit(seg, now)
}

// retireSegments removes fully-acknowledged segments from the head of the
// list, splitting the one straddling ack if necessary, and returns how many
// bytes of real stream data were retired -- excluding the one sequence
// number a control segment consumes without occupying a byte in buf -- for
// advanceBuffer to discard.
func (s *sender) retireSegments(ack seqnum.Value) int {
	dataRetired := 0
	for e := s.list.Front(); e != nil; {
		seg := asSendSegment(e)
		if ack.LessThan(seg.end()) && seg.seq.LessThan(ack) {
			trimmed := int(seg.seq.Size(ack))
			if !seg.isCtrl {
				dataRetired += trimmed
			}
			seg.seq = ack
			seg.len -= trimmed
			break
		}
		if seg.end().LessThan(ack) || seg.end() == ack {
			if !seg.isCtrl {
				dataRetired += seg.len
			}
			next := e.Next()
			s.list.Remove(seg)
			e = next
			continue
		}
		break
	}
	return dataRetired
}

func (s *sender) advanceBuffer(n int) {
	if n <= 0 {
		return
	}
	var tmp [4096]byte
	left := n
	for left > 0 {
		chunk := left
		if chunk > len(tmp) {
			chunk = len(tmp)
		}
		got := s.buf.Read(tmp[:chunk])
		if got == 0 {
			break
		}
		left -= got
	}
}

// sampleRTT feeds the RTO estimator from the peer's echoed timestamp
// (tsecr), the way the wire timestamp option is meant to be used: a zero
// tsecr means the peer never had one to echo (e.g. before it received
// anything from us), so no sample is taken.
func (s *sender) sampleRTT(tsecr uint32, now time.Time) {
	if tsecr == 0 {
		return
	}
	rttMillis := int32(nowMillis(now) - tsecr)
	if rttMillis < 0 {
		return
	}
	s.updateRTO(time.Duration(rttMillis) * time.Millisecond)
}

// updateRTO applies the Jacobson/Karels estimator from RFC 6298.
func (s *sender) updateRTO(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !s.srttInited {
		s.srtt = rtt
		s.rttvar = rtt / 2
		s.srttInited = true
	} else {
		delta := s.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		s.rttvar = s.rttvar - s.rttvar/4 + delta/4
		s.srtt = s.srtt - s.srtt/8 + rtt/8
	}
	rto := s.srtt + 4*s.rttvar
	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	s.rto = rto

	s.c.recorder.ObserveSRTT(s.srtt)
	s.c.recorder.ObserveRTO()
}

// checkRTO fires the retransmit timer if it has expired: it sets ssthresh
// to half the bytes in flight (floored at 2*MSS), collapses cwnd to one
// MSS, backs off the RTO exponentially, and forces the oldest outstanding
// segment back out.
func (s *sender) checkRTO(now time.Time) {
	if !s.rtoArmed || s.bytesInFlight() == 0 {
		return
	}
	if now.Sub(s.rtoBase) < s.rto {
		return
	}

	s.ssthresh = s.bytesInFlight() / 2
	if s.ssthresh < 2*s.mss {
		s.ssthresh = 2 * s.mss
	}
	s.cwnd = s.mss
	s.inRecovery = false
	s.dupAcks = 0

	rtoCap := maxRTO
	if s.c.state != StateEstablished {
		rtoCap = defRTO
	}
	s.rto *= 2
	if s.rto > rtoCap {
		s.rto = rtoCap
	}
	s.rtoBase = now

	s.c.recorder.ObserveRetransmit()
	s.c.recorder.ObserveCongestionWindow(s.cwnd)

	s.retransmitHead(now)
}

// checkZeroWindowProbe recovers from a peer that has advertised a zero
// window and stopped sending further updates: once one rx_rto has elapsed
// since our last send, it pokes the peer with an empty segment whose
// sequence number is one below snd_nxt to provoke a fresh window report, backing off rx_rto each time.
// After 15 seconds of total silence from the peer it gives up.
func (s *sender) checkZeroWindowProbe(now time.Time) {
	if s.wnd != 0 || s.nxt == 0 {
		return
	}
	if now.Sub(s.lastSendTime) < s.rto {
		return
	}
	if now.Sub(s.c.lastRecv) >= zeroWindowIdleTimeout {
		s.c.enterClosed(ErrConnectionAborted)
		return
	}

	s.c.emit(s.nxt.Sub(1), 0, nil, now)
	s.lastSendTime = now
	s.rto *= 2
	if s.rto > maxRTO {
		s.rto = maxRTO
	}
}
