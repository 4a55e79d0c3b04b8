package pseudotcp

import (
	"github.com/nullbridge/pseudotcp/ilist"
	"github.com/nullbridge/pseudotcp/seqnum"
)

// sendSegment is a descriptor in the send segment list. A data segment's
// len bytes live at the matching offset in the shared send buffer. A
// control segment consumes exactly one sequence number regardless of its
// payload size, so its bytes (the CONNECT option list, or none at all for
// a close marker) are carried inline on the descriptor instead, keeping the
// buffer to stream data only: a data segment's offset in it is its distance
// from snd_una less the control slots queued ahead of it.
type sendSegment struct {
	ilist.Entry

	seq       seqnum.Value
	len       int
	isCtrl    bool
	ctrlData  []byte
	xmitCount int
}

// seqLen is the number of sequence numbers this segment consumes: a control
// segment consumes exactly one (like a FIN), a data segment consumes len.
func (s *sendSegment) seqLen() seqnum.Size {
	if s.isCtrl {
		return 1
	}
	return seqnum.Size(s.len)
}

// end is the sequence number one past the last byte/slot this segment
// covers.
func (s *sendSegment) end() seqnum.Value {
	return s.seq.Add(s.seqLen())
}

// split divides a not-yet-transmitted data segment in place: s keeps the
// first n bytes and a new trailing descriptor, not yet transmitted, is
// returned for the remainder. Splitting a control segment or by n >= s.len
// is a programming error.
func (s *sendSegment) split(n int) *sendSegment {
	if s.isCtrl || n <= 0 || n >= s.len {
		panic("pseudotcp: invalid segment split")
	}
	tail := &sendSegment{
		seq: s.seq.Add(seqnum.Size(n)),
		len: s.len - n,
	}
	s.len = n
	return tail
}

// pendingSegment describes a span of bytes already committed to the receive
// buffer at a non-contiguous offset, awaiting the gap ahead of it to be
// filled.
type pendingSegment struct {
	ilist.Entry

	seq seqnum.Value
	len int
}

func (p *pendingSegment) end() seqnum.Value {
	return p.seq.Add(seqnum.Size(p.len))
}

func asSendSegment(l ilist.Linker) *sendSegment {
	if l == nil {
		return nil
	}
	return l.(*sendSegment)
}

func asPendingSegment(l ilist.Linker) *pendingSegment {
	if l == nil {
		return nil
	}
	return l.(*pendingSegment)
}
