// Package seqnum defines the types and arithmetic used to work with
// sequence numbers and window sizes that wrap around a 32-bit space.
package seqnum

// Value represents the value of a sequence number. It wraps around after
// reaching the maximum 32-bit value, so all arithmetic is done with
// wraparound in mind.
type Value uint32

// Size represents the size of a sequence number window, or the result of
// subtracting one sequence Value from another.
type Size uint32

// SizeFromValue casts a Value to a Size, typically to express a window
// width rather than a position.
func SizeFromValue(v Value) Size {
	return Size(v)
}

// Add computes the sequence number following the "sz" window starting at v.
func (v Value) Add(sz Size) Value {
	return v + Value(sz)
}

// Sub computes the sequence number sz positions before v.
func (v Value) Sub(sz Size) Value {
	return v - Value(sz)
}

// Size computes the size of the window defined by [v, w), that is, the
// number of sequence numbers in the half-open interval starting at v and
// ending just before w. It handles wraparound correctly.
func (v Value) Size(w Value) Size {
	return Size(w - v)
}

// LessThan checks if v is before w, i.e., if v is earlier than w in a
// circular sequence-number space. This is equivalent to checking if
// v-w, when interpreted as a signed 32-bit value, is negative.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// InWindow checks if v is in the window that starts at "first" and spans
// "size" sequence numbers.
func (v Value) InWindow(first Value, size Size) bool {
	return v.InRange(first, first.Add(size))
}

// InRange checks if v is in the half-open range [low, high), which may wrap
// around the sequence-number space. high must not be more than 2^31-1
// sequence numbers ahead of low, as is always the case for legitimate
// send/receive windows.
func (v Value) InRange(low, high Value) bool {
	return low.Size(v) < low.Size(high)
}
