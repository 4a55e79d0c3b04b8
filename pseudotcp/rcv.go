package pseudotcp

import (
	"github.com/nullbridge/pseudotcp/buffer"
	"github.com/nullbridge/pseudotcp/ilist"
	"github.com/nullbridge/pseudotcp/seqnum"
)

// ackFlag records what kind of ACK, if any, an inbound segment obliges the
// sender to emit: none (clean in-order empty segment), delayed (in-order
// data, deferred up to ackDelay), or immediate (a gap was observed, or an
// out-of-order span was just recovered).
type ackFlag int

const (
	ackNone ackFlag = iota
	ackDelayed
	ackImmediate
)

// receiver holds the state necessary to receive pseudotcp segments and turn
// them into an ordered byte stream: the sparse receive buffer and the list
// of out-of-order spans already committed to it.
type receiver struct {
	c *Conn

	buf     *buffer.FIFO
	pending ilist.List // *pendingSegment, sorted by seq, all > nxt

	nxt seqnum.Value
}

func newReceiver(c *Conn, irs seqnum.Value, bufSize int) *receiver {
	return &receiver{
		c:   c,
		buf: buffer.NewFIFO(bufSize),
		nxt: irs,
	}
}

// advertisedWindow is the number of bytes still available to the peer, in
// host units (before the rwndScale shift applied on the wire).
func (r *receiver) advertisedWindow() seqnum.Size {
	return seqnum.Size(r.buf.Avail())
}

func (r *receiver) isFull() bool {
	return r.buf.Avail() == 0
}

// Read drains up to len(dst) bytes from the front of the receive buffer.
func (r *receiver) Read(dst []byte) int {
	return r.buf.Read(dst)
}

// classify determines the ACK obligation an arriving segment creates,
// evaluated against the segment's original (pre-trim) extent: anything not
// exactly at nxt is either stale or a gap and must be acked immediately;
// in-order data is delayed (or immediate, if delayed ACKs are disabled);
// an in-order empty segment needs no ACK of its own.
func (r *receiver) classify(seg inboundSegment) ackFlag {
	if seg.seq != r.nxt {
		return ackImmediate
	}
	if len(seg.payload) == 0 {
		return ackNone
	}
	if r.c.ackDelay == 0 {
		return ackImmediate
	}
	return ackDelayed
}

// process adjusts an inbound segment to fit the receive window, commits any
// in-window bytes (unless ignoreData is set, for control segments or a
// shutting-down connection, in which case rcv_nxt still advances over an
// in-order span but no bytes are written), reassembles any now-contiguous
// out-of-order spans, and returns the resulting ACK obligation -- which may
// be escalated to immediate if reassembly recovered any buffered data.
func (r *receiver) process(seg inboundSegment, ignoreData bool) ackFlag {
	flags := r.classify(seg)

	seq := seg.seq
	payload := seg.payload

	// Trim bytes already received.
	if seq.LessThan(r.nxt) {
		before := int(seq.Size(r.nxt))
		if before >= len(payload) {
			payload = nil
		} else {
			payload = payload[before:]
		}
		seq = r.nxt
	}

	// Trim bytes beyond the advertised window.
	if avail := r.buf.Avail(); len(payload) > 0 {
		windowEnd := r.nxt.Add(seqnum.Size(avail))
		if segEnd := seq.Add(seqnum.Size(len(payload))); windowEnd.LessThan(segEnd) {
			over := int(windowEnd.Size(segEnd))
			if over >= len(payload) {
				payload = nil
			} else {
				payload = payload[:len(payload)-over]
			}
		}
	}

	if len(payload) == 0 {
		return flags
	}

	if ignoreData {
		if seq == r.nxt {
			r.nxt = r.nxt.Add(seqnum.Size(len(payload)))
		}
		return flags
	}

	offset := int(r.nxt.Size(seq))
	r.buf.WriteAt(offset, payload)

	if seq != r.nxt {
		r.insertPending(seq, len(payload))
		return flags
	}

	r.nxt = r.nxt.Add(seqnum.Size(len(payload)))
	if r.drainPending() {
		flags = ackImmediate
	}
	return flags
}

// insertPending records a span already written to the buffer at a
// non-contiguous offset, keeping the list sorted by seq. A span starting at
// the same seq as an existing entry widens that entry; spans that merely
// overlap a neighbour are kept as separate entries, which drainPending
// handles when it merges them.
func (r *receiver) insertPending(seq seqnum.Value, length int) {
	var after ilist.Linker
	for e := r.pending.Front(); e != nil; e = e.Next() {
		p := asPendingSegment(e)
		if p.seq == seq {
			if length > p.len {
				p.len = length
			}
			return
		}
		if seq.LessThan(p.seq) {
			break
		}
		after = e
	}
	entry := &pendingSegment{seq: seq, len: length}
	if after == nil {
		r.pending.PushFront(entry)
	} else {
		r.pending.InsertAfter(after, entry)
	}
}

// drainPending merges any out-of-order spans that are now contiguous with
// nxt, advancing it and reporting whether anything was recovered.
func (r *receiver) drainPending() bool {
	merged := false
	for e := r.pending.Front(); e != nil; {
		p := asPendingSegment(e)
		if r.nxt.LessThan(p.seq) {
			break
		}
		next := e.Next()
		if r.nxt.LessThan(p.end()) {
			r.nxt = p.end()
			merged = true
		}
		r.pending.Remove(p)
		e = next
	}
	return merged
}
