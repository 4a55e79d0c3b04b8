// Package buffer provides the implementation of a buffer view, that is, a
// window into a piece of memory, as well as a bounded byte FIFO used for the
// pseudotcp send and receive queues.
package buffer

// View is a slice of a buffer, with convenience methods. FIFO uses it as its
// backing store.
type View []byte

// NewView allocates a new buffer and returns an initialized view that
// covers the whole buffer.
func NewView(size int) View {
	return make(View, size)
}
