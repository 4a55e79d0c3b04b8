package pseudotcp

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nullbridge/pseudotcp/header"
	"github.com/nullbridge/pseudotcp/seqnum"
)

// logFields is a local alias so call sites don't need to import logrus
// directly just to build a field set.
type logFields = logrus.Fields

// Option identifies a tunable connection parameter for GetOption/SetOption.
type Option int

const (
	// OptSendBufferSize is the size, in bytes, of the send buffer.
	OptSendBufferSize Option = iota
	// OptReceiveBufferSize is the size, in bytes, of the receive buffer.
	// May only be changed while in StateListen, per the teacher's
	// resize-before-handshake constraint.
	OptReceiveBufferSize
	// OptNoDelay disables Nagle's algorithm when non-zero.
	OptNoDelay
	// OptAckDelay is the maximum delayed-ACK hold time, in milliseconds.
	OptAckDelay
	// OptCongestionWindow exposes the current congestion window, in bytes.
	// Read-only; SetOption rejects it.
	OptCongestionWindow
)

// Config carries the construction-time parameters for NewConn. Every field
// is optional; zero values fall back to the documented defaults.
type Config struct {
	Conv uint32

	SendBufferSize    int
	ReceiveBufferSize int

	NoDelay  bool
	AckDelay time.Duration

	Clock    func() time.Time
	Recorder Recorder
	Logger   *logrus.Entry
}

// Conn is a single pseudotcp connection: a state machine, a sender, and a
// receiver, driven entirely by the three host entry points (NotifyPacket,
// NotifyClock, NotifyMTU) plus the application-facing Send/Recv/Close.
//
// A Conn is not safe for concurrent use; the host is expected to serialize
// all calls into it, exactly as the underlying engine this package is
// modeled on does.
type Conn struct {
	conv uint32

	state    State
	shutdown ShutdownMode

	snd *sender
	rcv *receiver

	notifier Notifier
	recorder Recorder
	clock    func() time.Time
	log      *logrus.Entry

	noDelay  bool
	ackDelay time.Duration

	rwndScale uint8 // our advertised scale, fixed at construction
	swndScale uint8 // peer's advertised scale, learned from CONNECT

	tsRecent uint32 // peer's last timestamp, echoed on our next segment

	lastSend     time.Time
	lastRecv     time.Time
	lastTraffic  time.Time
	outgoing     bool
	lastAckSent  seqnum.Value
	delayedAck   bool
	ackScheduled time.Time

	readEnable  bool // re-armed whenever Recv returns ErrWouldBlock
	writeEnable bool // re-armed whenever Send returns ErrWouldBlock

	err error
}

const defaultAckDelay = defAckDelay

// NewConn constructs a connection in StateListen, ready to either accept an
// inbound CONNECT via NotifyPacket or initiate one via Connect.
func NewConn(cfg Config, notifier Notifier) *Conn {
	sndSize := cfg.SendBufferSize
	if sndSize <= 0 {
		sndSize = defaultSndBufSize
	}
	rcvSize := cfg.ReceiveBufferSize
	if rcvSize <= 0 {
		rcvSize = defaultRcvBufSize
	}
	if rcvSize+minPacket >= sndSize {
		sndSize = rcvSize + minPacket + 1
	}

	ackDelay := cfg.AckDelay
	if ackDelay == 0 && !cfg.NoDelay {
		ackDelay = defaultAckDelay
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}

	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = logrus.NewEntry(discard)
	}
	log = log.WithField("conv", cfg.Conv)

	c := &Conn{
		conv:      cfg.Conv,
		state:     StateListen,
		notifier:  notifier,
		recorder:  recorder,
		clock:     clock,
		log:       log,
		noDelay:     cfg.NoDelay,
		ackDelay:    ackDelay,
		rwndScale:   scaleFor(rcvSize),
		readEnable:  true,
		writeEnable: true,
	}

	// ISS is fixed at zero: unlike real TCP, a pseudotcp conversation id
	// already disambiguates instances, so there is nothing to gain from a
	// randomized initial sequence number.
	const iss = seqnum.Value(0)

	c.snd = newSender(c, iss, sndSize, minPacket-packetOverhead)
	c.rcv = newReceiver(c, iss, rcvSize)

	return c
}

func scaleFor(n int) uint8 {
	scale := uint8(0)
	for n > 0xffff {
		scale++
		n >>= 1
	}
	return scale
}

func (c *Conn) logger() *logrus.Entry { return c.log }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// Err returns the error the connection closed with, or nil if it is still
// open or was closed cleanly.
func (c *Conn) Err() error { return c.err }

// Connect transitions a StateListen connection to StateSynSent, sending the
// initial CONNECT control segment. It is an error to call Connect more than
// once, or on a connection that has already received an inbound CONNECT.
func (c *Conn) Connect() error {
	if c.state != StateListen {
		return ErrInvalid
	}
	c.state = StateSynSent
	c.queueConnect()
	c.snd.attemptSend(sendImmediate, c.now())
	return nil
}

func (c *Conn) queueConnect() {
	payload := c.buildConnectOptions()
	c.snd.queue(payload, true)
}

// Send queues up to len(b) bytes for transmission, returning the number of
// bytes accepted (which may be less than len(b), or zero if the send
// buffer is full) and an error if the connection cannot accept data at all.
func (c *Conn) Send(b []byte) (int, error) {
	switch c.state {
	case StateClosed:
		if c.err != nil {
			return 0, c.err
		}
		return 0, ErrNotConnected
	case StateListen:
		return 0, ErrNotConnected
	}
	if c.shutdown != ShutdownNone {
		return 0, ErrInvalid
	}

	n := c.snd.queue(b, false)
	if n == 0 && len(b) > 0 {
		c.writeEnable = true
		return 0, ErrWouldBlock
	}
	c.snd.attemptSend(sendNormal, c.now())
	return n, nil
}

// Recv copies up to len(b) bytes from the receive buffer, returning
// ErrWouldBlock if none are available yet.
func (c *Conn) Recv(b []byte) (int, error) {
	if c.state == StateClosed && c.rcv.buf.Len() == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, ErrNotConnected
	}
	n := c.rcv.Read(b)
	if n == 0 {
		if c.state == StateClosed {
			return 0, ErrNotConnected
		}
		c.readEnable = true
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Close begins an orderly (graceful) or immediate (forceful) shutdown.
// Graceful close drains the send queue and then sends a CTL segment marking
// end of stream; forceful close transitions to StateClosed immediately.
func (c *Conn) Close(graceful bool) {
	if c.state == StateClosed {
		return
	}
	if !graceful {
		c.shutdown = ShutdownForceful
		c.enterClosed(nil)
		return
	}
	if c.shutdown != ShutdownNone {
		return
	}
	c.shutdown = ShutdownGraceful
	c.snd.queue(nil, true)
	c.snd.attemptSend(sendNormal, c.now())
}

func (c *Conn) enterClosed(err error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.err = err
	c.log.WithField("err", err).Debug("connection closed")
	c.notifier.OnClosed(c, err)
}

// GetOption reads a tunable parameter.
func (c *Conn) GetOption(o Option) int {
	switch o {
	case OptSendBufferSize:
		return c.snd.buf.Cap()
	case OptReceiveBufferSize:
		return c.rcv.buf.Cap()
	case OptNoDelay:
		if c.noDelay {
			return 1
		}
		return 0
	case OptAckDelay:
		return int(c.ackDelay / time.Millisecond)
	case OptCongestionWindow:
		return c.snd.cwnd
	default:
		return 0
	}
}

// SetOption changes a tunable parameter. OptSendBufferSize and
// OptReceiveBufferSize may only be changed while in StateListen.
func (c *Conn) SetOption(o Option, value int) error {
	switch o {
	case OptSendBufferSize:
		if c.state != StateListen {
			return ErrInvalid
		}
		c.snd.buf.Resize(value)
	case OptReceiveBufferSize:
		if c.state != StateListen {
			return ErrInvalid
		}
		c.resizeReceiveBuffer(value)
	case OptNoDelay:
		c.noDelay = value != 0
		if c.noDelay {
			c.ackDelay = 0
		}
	case OptAckDelay:
		c.ackDelay = time.Duration(value) * time.Millisecond
	case OptCongestionWindow:
		return ErrInvalid
	default:
		return ErrInvalid
	}
	return nil
}

// CongestionWindow reports the current congestion window, in bytes.
func (c *Conn) CongestionWindow() int { return c.snd.cwnd }

// BytesInFlight reports the number of bytes sent but not yet acknowledged.
func (c *Conn) BytesInFlight() int { return c.snd.bytesInFlight() }

// BytesBufferedNotSent reports the number of queued bytes not yet handed to
// the host for transmission.
func (c *Conn) BytesBufferedNotSent() int {
	n := c.snd.buf.Len() - c.snd.bytesInFlight()
	if n < 0 {
		return 0
	}
	return n
}

// RoundTripTime reports the current smoothed RTT estimate.
func (c *Conn) RoundTripTime() time.Duration { return c.snd.srtt }

// ReceiveBufferFull reports whether the receive buffer has no space left.
func (c *Conn) ReceiveBufferFull() bool { return c.rcv.isFull() }

func (c *Conn) now() time.Time { return c.clock() }

// stepDownMTU drops to the next smaller rung of the MTU ladder, reducing
// the sender's MSS accordingly. It returns false once the ladder is
// exhausted.
func (c *Conn) stepDownMTU() bool {
	target := c.snd.mss + packetOverhead
	for _, m := range mtuLadder {
		if m < target {
			mss := m - packetOverhead
			if mss < 1 {
				return false
			}
			c.snd.mss = mss
			c.log.WithField("mss", mss).Debug("stepped down path MTU")
			return true
		}
	}
	return false
}

// NotifyMTU informs the connection of a newly observed path MTU, clamping
// the sender's MSS to fit it immediately rather than waiting to discover it
// via WriteTooLarge.
func (c *Conn) NotifyMTU(mtu int) {
	mss := mtu - packetOverhead
	if mss < 1 {
		mss = 1
	}
	if mss < c.snd.mss {
		c.snd.mss = mss
	}
}

// NotifyPacket delivers one inbound datagram from the host's carrier.
func (c *Conn) NotifyPacket(b []byte) {
	seg, ok := c.decodePacket(b)
	if !ok {
		return
	}
	now := c.now()
	c.lastRecv = now
	c.lastTraffic = now
	c.outgoing = false

	if seg.isRst() {
		c.enterClosed(ErrConnectionReset)
		return
	}
	if seg.isCtl() && len(seg.payload) > 0 && seg.payload[0] != header.CtlConnect {
		c.log.WithField("opcode", seg.payload[0]).Warn("dropping control segment with unknown opcode")
		return
	}

	c.tsRecent = seg.tsval

	switch c.state {
	case StateListen:
		c.handleListen(seg, now)
	case StateSynSent:
		c.handleSynSent(seg, now)
	case StateSynReceived:
		c.handleSynReceived(seg, now)
	case StateEstablished:
		c.handleEstablished(seg, now)
	case StateClosed:
	}
}

func (c *Conn) handleListen(seg inboundSegment, now time.Time) {
	if !seg.isCtl() || len(seg.payload) == 0 || seg.payload[0] != header.CtlConnect {
		return
	}
	c.applyConnectOptions(seg.payload[1:])
	c.rcv.nxt = seg.seq.Add(1)
	c.snd.wnd = seqnum.Size(len(seg.payload))
	c.state = StateSynReceived
	c.queueConnect()
	c.snd.attemptSend(sendImmediate, now)
}

func (c *Conn) handleSynSent(seg inboundSegment, now time.Time) {
	if seg.isCtl() && len(seg.payload) > 0 && seg.payload[0] == header.CtlConnect {
		c.applyConnectOptions(seg.payload[1:])
		c.rcv.nxt = seg.seq.Add(1)
		c.sendAck(now)
	}
	c.snd.handleAck(seg, now)
	c.maybeComplete(now)
}

func (c *Conn) handleSynReceived(seg inboundSegment, now time.Time) {
	c.snd.handleAck(seg, now)
	c.maybeComplete(now)
	if c.state == StateEstablished {
		c.handleEstablished(seg, now)
	}
}

// maybeComplete promotes the connection to StateEstablished once our own
// CONNECT segment has been acknowledged, matching the three-way handshake:
// the local CONNECT is always the very first thing queued on snd, occupying
// sequence number 0, so its retirement is exactly "una advanced past 0".
func (c *Conn) maybeComplete(now time.Time) {
	if c.state != StateSynSent && c.state != StateSynReceived {
		return
	}
	if c.snd.una != seqnum.Value(0) {
		c.state = StateEstablished
		c.notifier.OnOpen(c)
	}
}

func (c *Conn) handleEstablished(seg inboundSegment, now time.Time) {
	nxtBefore := c.rcv.nxt
	flags := c.rcv.process(seg, seg.isCtl() || c.shutdown != ShutdownNone)
	c.snd.handleAck(seg, now)

	if seg.isCtl() && len(seg.payload) == 0 {
		// A control segment carrying no CONNECT payload, past the
		// handshake, marks the peer's graceful end of stream.
		c.enterClosed(nil)
		return
	}

	c.scheduleAck(flags, now)

	if c.readEnable && c.rcv.nxt != nxtBefore {
		c.readEnable = false
		c.notifier.OnReadable(c)
	}
	if c.writeEnable && c.snd.buf.Len() < (c.snd.buf.Cap()+c.rcv.buf.Cap())/2 {
		c.writeEnable = false
		c.notifier.OnWriteable(c)
	}
}

func (c *Conn) scheduleAck(flags ackFlag, now time.Time) {
	switch flags {
	case ackImmediate:
		c.sendAck(now)
	case ackDelayed:
		if !c.delayedAck {
			c.delayedAck = true
			c.ackScheduled = now.Add(c.ackDelay)
		}
	}
}

func (c *Conn) sendAck(now time.Time) {
	c.delayedAck = false
	c.emit(c.snd.nxt, 0, nil, now)
}

// NotifyClock is called whenever the host's clock reaches the deadline
// previously returned by GetNextClock (or at any other time the host
// chooses to poll more eagerly; spurious calls are harmless).
func (c *Conn) NotifyClock(now time.Time) {
	if c.state == StateClosed {
		return
	}
	if c.delayedAck && !now.Before(c.ackScheduled) {
		c.sendAck(now)
	}
	c.snd.checkRTO(now)
	if c.state == StateClosed {
		return
	}
	if c.state == StateEstablished || c.state == StateSynReceived {
		c.snd.checkZeroWindowProbe(now)
	}
	if c.state == StateClosed {
		return
	}
	if c.state == StateEstablished || c.state == StateSynReceived {
		c.snd.attemptSend(sendNormal, now)
	}
	c.checkIdleClose(now)
}

func (c *Conn) checkIdleClose(now time.Time) {
	if c.shutdown == ShutdownGraceful && c.state == StateEstablished &&
		c.snd.buf.Len() == 0 && c.snd.bytesInFlight() == 0 && !c.delayedAck {
		c.enterClosed(nil)
	}
}

// GetNextClock reports when the host should next call NotifyClock, and
// whether the engine still needs ticking at all. The bool is false once
// shutdown is forceful, or once a graceful shutdown has drained the send
// queue with nothing left to acknowledge — the host can stop polling.
func (c *Conn) GetNextClock(now time.Time) (time.Duration, bool) {
	if c.shutdown == ShutdownForceful {
		return 0, false
	}
	if c.shutdown == ShutdownGraceful &&
		(c.state != StateEstablished || (c.snd.buf.Len() == 0 && c.snd.bytesInFlight() == 0 && !c.delayedAck)) {
		return 0, false
	}
	if c.state == StateClosed {
		return closedClockTimeout, true
	}
	next := now.Add(defaultClockTimeout)
	if c.delayedAck && c.ackScheduled.Before(next) {
		next = c.ackScheduled
	}
	if c.snd.rtoArmed {
		deadline := c.snd.rtoBase.Add(c.snd.rto)
		if deadline.Before(next) {
			next = deadline
		}
	}
	return next.Sub(now), true
}
