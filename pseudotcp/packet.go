package pseudotcp

import (
	"time"

	"github.com/nullbridge/pseudotcp/header"
	"github.com/nullbridge/pseudotcp/seqnum"
)

// Fixed network constants, per the outer-framing overhead a pseudotcp
// connection is expected to ride inside (header + UDP + IP + an additional
// peer-to-peer relay framing layer).
const (
	udpHeaderSize    = 8
	ipHeaderSize     = 20
	outerFramingSize = 64

	packetOverhead = header.Size + udpHeaderSize + ipHeaderSize + outerFramingSize // 116

	minPacket = 296
	maxPacket = header.MaxPacketSize

	defaultRcvBufSize = 60 * 1024
	defaultSndBufSize = 90 * 1024

	minRTO    = 250 * time.Millisecond
	defRTO    = 3 * time.Second
	maxRTO    = 60 * time.Second
	defAckDelay = 100 * time.Millisecond

	defaultClockTimeout = 4 * time.Second
	closedClockTimeout  = 60 * time.Second

	zeroWindowIdleTimeout = 15 * time.Second

	maxXmitEstablished    = 15
	maxXmitPreEstablished = 30
)

// mtuLadder is the descending path-MTU ladder stepped through on
// WriteTooLarge, per the classic RFC 1191 "standard MTUs" table.
var mtuLadder = []int{65535, 32000, 17914, 8166, 4352, 2002, 1492, 1006, 508, 296}

// inboundSegment is the decoded form of a received packet, analogous to the
// teacher's segment.parse() result.
type inboundSegment struct {
	seq     seqnum.Value
	ack     seqnum.Value
	flags   uint8
	window  seqnum.Size
	tsval   uint32
	tsecr   uint32
	payload []byte
}

func (s *inboundSegment) isCtl() bool { return s.flags&header.FlagCtl != 0 }
func (s *inboundSegment) isRst() bool { return s.flags&header.FlagRst != 0 }

// nowMillis converts a clock reading into the wrapping 32-bit millisecond
// timestamp carried on the wire.
func nowMillis(t time.Time) uint32 {
	return uint32(t.UnixMilli())
}

// decodePacket validates and parses a received datagram, checking the
// conversation id and the overall size bound. It returns false for packets
// that must be silently dropped (wrong conversation, too large, too short
// to parse at all).
func (c *Conn) decodePacket(b []byte) (inboundSegment, bool) {
	if len(b) > maxPacket {
		c.log.WithField("len", len(b)).Warn("dropping oversized packet")
		return inboundSegment{}, false
	}
	f, ok := header.Decode(b)
	if !ok {
		c.log.WithField("len", len(b)).Warn("dropping unparseable packet")
		return inboundSegment{}, false
	}
	if f.Conv != c.conv {
		c.log.WithFields(logFields{"conv": f.Conv, "want": c.conv}).Debug("dropping packet with mismatched conversation id")
		return inboundSegment{}, false
	}
	var payload []byte
	if len(b) > header.Size {
		payload = b[header.Size:]
	}
	return inboundSegment{
		seq:     seqnum.Value(f.Seq),
		ack:     seqnum.Value(f.Ack),
		flags:   f.Flags,
		window:  seqnum.Size(f.Window),
		tsval:   f.Timestamp,
		tsecr:   f.TsEcho,
		payload: payload,
	}, true
}

// emit builds and hands a single segment to the host's WritePacket. ack and
// window are always taken from the receiver's current state (every
// outbound segment doubles as an ACK for the in-order byte stream the
// receiver is tracking).
func (c *Conn) emit(seq seqnum.Value, flags uint8, payload []byte, now time.Time) WriteResult {
	f := header.Fields{
		Conv:      c.conv,
		Seq:       uint32(seq),
		Ack:       uint32(c.rcv.nxt),
		Flags:     flags,
		Window:    uint16(c.rcv.advertisedWindow() >> c.rwndScale),
		Timestamp: nowMillis(now),
		TsEcho:    c.tsRecent,
	}
	buf := make([]byte, header.Size+len(payload))
	header.Encode(buf, &f, payload)

	c.lastSend = now
	c.lastTraffic = now
	c.outgoing = true

	return c.notifier.WritePacket(c, buf)
}
