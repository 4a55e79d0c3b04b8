// Command ptcpcat embeds a pseudotcp connection inside a real UDP socket,
// reading standard input to the stream and writing the stream to standard
// output. It exists purely to give the engine a runnable host, the same
// role yustack's sample/tun_tcp_echo plays for its TCP transport; it
// carries no protocol semantics of its own.
//
// All calls into the Conn are serialized onto a single goroutine, since the
// engine is not safe for concurrent use: readers of the socket and of
// standard input hand their work to that goroutine over channels instead of
// calling in directly.
package main

import (
	"bufio"
	"flag"
	"net"
	"os"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/nullbridge/pseudotcp/internal/metrics"
	"github.com/nullbridge/pseudotcp/pseudotcp"
)

// outerFrame is the single byte every datagram is prefixed with, so the
// demo could in principle multiplex more than one conversation over the
// same socket. Only one conversation is ever opened here; it is
// deliberately not a real address/port tuple.
const outerFrame = 0x01

func main() {
	listen := flag.String("listen", "", "local UDP address to listen on, e.g. :9000")
	remote := flag.String("remote", "", "remote UDP address to connect to, e.g. 127.0.0.1:9000")
	conv := flag.Uint("conv", 1, "conversation id")
	flag.Parse()

	log := logrus.WithField("session", xid.New().String())

	if (*listen == "") == (*remote == "") {
		log.Fatal("exactly one of -listen or -remote must be given")
	}

	var laddr, raddr *net.UDPAddr
	var err error
	if *listen != "" {
		laddr, err = net.ResolveUDPAddr("udp", *listen)
	} else {
		raddr, err = net.ResolveUDPAddr("udp", *remote)
	}
	if err != nil {
		log.WithError(err).Fatal("resolving UDP address")
	}

	sock, err := net.ListenUDP("udp", laddr)
	if err != nil {
		log.WithError(err).Fatal("opening UDP socket")
	}
	defer sock.Close()

	h := newHost(sock, raddr, log, uint32(*conv))

	go h.readLoop()
	go h.stdinLoop()

	h.run()
}

// inbound is a packet lifted off the socket, handed to the event loop.
type inbound struct {
	data []byte
	addr *net.UDPAddr
}

// outbound is a chunk of stdin data handed to the event loop; result
// carries back how many bytes were accepted, or an error.
type outbound struct {
	data   []byte
	result chan outboundResult
}

type outboundResult struct {
	n   int
	err error
}

// host is the Notifier: it owns the UDP socket and the single pseudotcp
// conversation riding inside it. Every method here runs on the event loop
// goroutine, synchronously inside a Conn call -- exactly the contract the
// engine expects of its host.
type host struct {
	sock *net.UDPConn
	peer *net.UDPAddr
	log  *logrus.Entry
	conn *pseudotcp.Conn

	fromSocket chan inbound
	fromStdin  chan outbound
	eof        chan struct{}
	done       chan struct{}
}

func newHost(sock *net.UDPConn, peer *net.UDPAddr, log *logrus.Entry, conv uint32) *host {
	h := &host{
		sock:       sock,
		peer:       peer,
		log:        log,
		fromSocket: make(chan inbound, 64),
		fromStdin:  make(chan outbound),
		eof:        make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.conn = pseudotcp.NewConn(pseudotcp.Config{
		Conv:     conv,
		Logger:   log,
		Recorder: metrics.New(),
	}, h)
	return h
}

func (h *host) OnOpen(c *pseudotcp.Conn) {
	h.log.Info("connection established")
}

func (h *host) OnReadable(c *pseudotcp.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := c.Recv(buf)
		if err != nil {
			return
		}
		os.Stdout.Write(buf[:n])
	}
}

func (h *host) OnWriteable(c *pseudotcp.Conn) {}

func (h *host) OnClosed(c *pseudotcp.Conn, err error) {
	if err != nil {
		h.log.WithError(err).Warn("connection closed")
	} else {
		h.log.Info("connection closed")
	}
	close(h.done)
}

func (h *host) WritePacket(c *pseudotcp.Conn, b []byte) pseudotcp.WriteResult {
	if h.peer == nil {
		return pseudotcp.WriteFail
	}
	framed := make([]byte, 1+len(b))
	framed[0] = outerFrame
	copy(framed[1:], b)

	if _, err := h.sock.WriteToUDP(framed, h.peer); err != nil {
		h.log.WithError(err).Debug("WriteToUDP failed")
		return pseudotcp.WriteFail
	}
	return pseudotcp.WriteSuccess
}

// readLoop blocks on the socket and hands every frame it gets to the event
// loop; it never touches h.conn directly.
func (h *host) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := h.sock.ReadFromUDP(buf)
		if err != nil {
			h.log.WithError(err).Warn("ReadFromUDP failed")
			return
		}
		if n < 1 || buf[0] != outerFrame {
			continue
		}
		cp := make([]byte, n-1)
		copy(cp, buf[1:n])
		select {
		case h.fromSocket <- inbound{data: cp, addr: addr}:
		case <-h.done:
			return
		}
	}
}

// stdinLoop reads standard input and offers each chunk to the event loop,
// retrying a short chunk until the whole read is accepted or the
// connection is gone.
func (h *host) stdinLoop() {
	r := bufio.NewReader(os.Stdin)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			for len(data) > 0 {
				result := make(chan outboundResult, 1)
				select {
				case h.fromStdin <- outbound{data: data, result: result}:
				case <-h.done:
					return
				}
				res := <-result
				if res.err != nil {
					return
				}
				if res.n == 0 {
					time.Sleep(10 * time.Millisecond)
					continue
				}
				data = data[res.n:]
			}
		}
		if err != nil {
			close(h.eof)
			return
		}
	}
}

// run is the single event loop: every call into h.conn happens here, so the
// engine never sees concurrent entry.
func (h *host) run() {
	if h.peer != nil {
		if err := h.conn.Connect(); err != nil {
			h.log.WithError(err).Fatal("Connect")
		}
	}

	timer := time.NewTimer(h.nextClockDelay())
	defer timer.Stop()

	for {
		select {
		case pkt := <-h.fromSocket:
			if h.peer == nil {
				h.peer = pkt.addr
			}
			h.conn.NotifyPacket(pkt.data)

		case req := <-h.fromStdin:
			n, err := h.conn.Send(req.data)
			req.result <- outboundResult{n: n, err: sendErr(err)}

		case <-h.eof:
			h.conn.Close(true)

		case <-timer.C:
			h.conn.NotifyClock(time.Now())
			timer.Reset(h.nextClockDelay())

		case <-h.done:
			return
		}
	}
}

// sendErr treats ErrWouldBlock as "try again", not a fatal error: stdinLoop
// sees zero bytes accepted and offers the same chunk again after a short
// sleep.
func sendErr(err error) error {
	if err == pseudotcp.ErrWouldBlock {
		return nil
	}
	return err
}

func (h *host) nextClockDelay() time.Duration {
	now := time.Now()
	d, ok := h.conn.GetNextClock(now)
	if !ok {
		// Engine is idle (forceful shutdown, or graceful shutdown drained);
		// OnClosed will close h.done shortly. Keep the timer alive but slow.
		return time.Second
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
