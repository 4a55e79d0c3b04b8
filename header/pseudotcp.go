// Package header implements encoding and decoding of the pseudotcp wire
// header and its CONNECT option list, per spec.md §4.1 and §4.8.
package header

import "encoding/binary"

// Field offsets within the 24-byte pseudotcp header. All multibyte fields
// are big-endian.
const (
	fieldConv      = 0
	fieldSeq       = 4
	fieldAck       = 8
	fieldReserved  = 12
	fieldFlags     = 13
	fieldWindow    = 14
	fieldTimestamp = 16
	fieldTsEcho    = 20
)

const (
	// Size is the fixed size, in bytes, of the pseudotcp header.
	Size = 24

	// MinimumParseableSize is the minimum number of bytes needed to read
	// conversation id, sequence number and ack number off a packet, per
	// spec.md §4.1's ingress invariant ("total size >= 12").
	MinimumParseableSize = 12

	// MaxPacketSize is the largest packet the packetizer will parse;
	// larger packets are dropped per spec.md §4.1.
	MaxPacketSize = 65535
)

// Flags that may be set in a pseudotcp segment.
const (
	// FlagCtl marks a control segment (bit 1).
	FlagCtl uint8 = 1 << 0
	// FlagRst marks a reset segment (bit 2).
	FlagRst uint8 = 1 << 1
)

// PseudoTCP represents a pseudotcp header stored in wire byte order,
// following the accessor-on-a-byte-slice idiom of the teacher's TCP/IPv4
// headers.
type PseudoTCP []byte

// Fields contains the decoded fields of a pseudotcp header, used both to
// describe a packet that needs to be encoded and as the return value of
// Decode.
type Fields struct {
	Conv      uint32
	Seq       uint32
	Ack       uint32
	Flags     uint8
	Window    uint16
	Timestamp uint32
	TsEcho    uint32
}

// Conversation returns the conversation id field.
func (b PseudoTCP) Conversation() uint32 {
	return binary.BigEndian.Uint32(b[fieldConv:])
}

// Sequence returns the sequence number field.
func (b PseudoTCP) Sequence() uint32 {
	return binary.BigEndian.Uint32(b[fieldSeq:])
}

// Acknowledgment returns the acknowledgment number field.
func (b PseudoTCP) Acknowledgment() uint32 {
	return binary.BigEndian.Uint32(b[fieldAck:])
}

// Flags returns the flags byte.
func (b PseudoTCP) Flags() uint8 {
	return b[fieldFlags]
}

// Window returns the window field.
func (b PseudoTCP) Window() uint16 {
	return binary.BigEndian.Uint16(b[fieldWindow:])
}

// Timestamp returns the sender's timestamp field.
func (b PseudoTCP) Timestamp() uint32 {
	return binary.BigEndian.Uint32(b[fieldTimestamp:])
}

// TsEcho returns the echoed timestamp field.
func (b PseudoTCP) TsEcho() uint32 {
	return binary.BigEndian.Uint32(b[fieldTsEcho:])
}

// Payload returns the bytes following the fixed header.
func (b PseudoTCP) Payload() []byte {
	return b[Size:]
}

// Encode serializes f and a payload into b, which must be at least
// Size+len(payload) bytes long.
func Encode(b []byte, f *Fields, payload []byte) int {
	binary.BigEndian.PutUint32(b[fieldConv:], f.Conv)
	binary.BigEndian.PutUint32(b[fieldSeq:], f.Seq)
	binary.BigEndian.PutUint32(b[fieldAck:], f.Ack)
	b[fieldReserved] = 0
	b[fieldFlags] = f.Flags
	binary.BigEndian.PutUint16(b[fieldWindow:], f.Window)
	binary.BigEndian.PutUint32(b[fieldTimestamp:], f.Timestamp)
	binary.BigEndian.PutUint32(b[fieldTsEcho:], f.TsEcho)
	n := copy(b[Size:], payload)
	return Size + n
}

// Decode parses the fixed fields of a pseudotcp header out of b. It returns
// false only if b is shorter than MinimumParseableSize. When b is shorter
// than Size, the fields after the ack number (flags, window, timestamps)
// are left zero.
func Decode(b []byte) (Fields, bool) {
	if len(b) < MinimumParseableSize {
		return Fields{}, false
	}
	var f Fields
	f.Conv = binary.BigEndian.Uint32(b[fieldConv:])
	f.Seq = binary.BigEndian.Uint32(b[fieldSeq:])
	f.Ack = binary.BigEndian.Uint32(b[fieldAck:])
	if len(b) >= Size {
		f.Flags = b[fieldFlags]
		f.Window = binary.BigEndian.Uint16(b[fieldWindow:])
		f.Timestamp = binary.BigEndian.Uint32(b[fieldTimestamp:])
		f.TsEcho = binary.BigEndian.Uint32(b[fieldTsEcho:])
	}
	return f, true
}
