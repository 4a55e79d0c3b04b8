package pseudotcp_test

import (
	"time"

	"github.com/nullbridge/pseudotcp/pseudotcp"
)

// recordingNotifier captures the upcalls a test cares about and forwards
// every outbound packet to a pluggable sink, so two connections can be
// wired directly together without any real socket.
type recordingNotifier struct {
	name string
	sink func(b []byte)

	opened   bool
	closed   bool
	closeErr error
	readable int
	writable int
}

func (n *recordingNotifier) OnOpen(c *pseudotcp.Conn)  { n.opened = true }
func (n *recordingNotifier) OnReadable(c *pseudotcp.Conn) { n.readable++ }
func (n *recordingNotifier) OnWriteable(c *pseudotcp.Conn) { n.writable++ }
func (n *recordingNotifier) OnClosed(c *pseudotcp.Conn, err error) {
	n.closed = true
	n.closeErr = err
}

func (n *recordingNotifier) WritePacket(c *pseudotcp.Conn, b []byte) pseudotcp.WriteResult {
	cp := make([]byte, len(b))
	copy(cp, b)
	if n.sink != nil {
		n.sink(cp)
	}
	return pseudotcp.WriteSuccess
}

// pipe wires two Conns back to back over an in-memory "wire": packets
// written by one are queued for delivery to the other on the next pump.
type pipe struct {
	now time.Time

	a, b       *pseudotcp.Conn
	na, nb     *recordingNotifier
	toA, toB   [][]byte
}

func newPipe() *pipe {
	p := &pipe{now: time.Unix(1700000000, 0)}

	p.na = &recordingNotifier{name: "a"}
	p.nb = &recordingNotifier{name: "b"}
	p.na.sink = func(b []byte) { p.toB = append(p.toB, b) }
	p.nb.sink = func(b []byte) { p.toA = append(p.toA, b) }

	clock := func() time.Time { return p.now }

	p.a = pseudotcp.NewConn(pseudotcp.Config{Conv: 42, Clock: clock}, p.na)
	p.b = pseudotcp.NewConn(pseudotcp.Config{Conv: 42, Clock: clock}, p.nb)
	return p
}

// pump delivers every queued packet to its destination, repeating until
// both queues drain (a handshake or data exchange typically settles in a
// couple of rounds).
func (p *pipe) pump() {
	for i := 0; i < 200 && (len(p.toA) > 0 || len(p.toB) > 0); i++ {
		toA, toB := p.toA, p.toB
		p.toA, p.toB = nil, nil
		for _, b := range toA {
			p.a.NotifyPacket(b)
		}
		for _, b := range toB {
			p.b.NotifyPacket(b)
		}
	}
}

func (p *pipe) advance(d time.Duration) {
	p.now = p.now.Add(d)
	p.a.NotifyClock(p.now)
	p.b.NotifyClock(p.now)
	p.pump()
}
