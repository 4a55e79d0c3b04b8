package pseudotcp

// WriteResult is returned by Notifier.WritePacket, mirroring the
// ICMP_write_packet-style tri-state result the original engine expects from
// its host: a packet can be sent, rejected as too large for the path, or
// transiently fail.
type WriteResult int

const (
	// WriteSuccess means the datagram was handed off to the carrier.
	WriteSuccess WriteResult = iota
	// WriteTooLarge means the datagram exceeded the path's MTU; the
	// engine will step down its MSS and retry.
	WriteTooLarge
	// WriteFail means the datagram was dropped for some other reason;
	// non-empty packets are left for the retransmit timer to recover,
	// empty ACKs are simply swallowed.
	WriteFail
)

// Notifier is the set of upcalls the engine makes into its host. All calls
// happen synchronously, on whatever goroutine called into Conn; see the
// package doc for the single-threaded, non-reentrant contract.
type Notifier interface {
	// OnOpen is called once the connection reaches ESTABLISHED.
	OnOpen(c *Conn)
	// OnReadable is called when data becomes available to Recv: the first
	// time, and after that only if a Recv call has returned ErrWouldBlock
	// since the previous notification.
	OnReadable(c *Conn)
	// OnWriteable is called when Send is likely to accept more data: the
	// first time, and after that only if a Send call has returned
	// ErrWouldBlock since the previous notification.
	OnWriteable(c *Conn)
	// OnClosed is called exactly once, when the connection transitions
	// to CLOSED. err is nil for a locally forced close.
	OnClosed(c *Conn, err error)
	// WritePacket asks the host to deliver b to the peer. The slice is
	// only valid for the duration of the call.
	WritePacket(c *Conn, b []byte) WriteResult
}
