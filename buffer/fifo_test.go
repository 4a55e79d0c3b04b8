package buffer_test

import (
	"bytes"
	"testing"

	"github.com/nullbridge/pseudotcp/buffer"
)

func TestAppendAndRead(t *testing.T) {
	f := buffer.NewFIFO(8)
	if n := f.Append([]byte("hello")); n != 5 {
		t.Fatalf("Append() = %d, want 5", n)
	}
	if n := f.Append([]byte("world!")); n != 3 {
		t.Fatalf("Append() = %d, want 3 (truncated to capacity)", n)
	}
	if f.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", f.Len())
	}

	dst := make([]byte, 4)
	if n := f.Read(dst); n != 4 || !bytes.Equal(dst, []byte("hell")) {
		t.Fatalf("Read() = %q, n=%d", dst, n)
	}
	if f.Len() != 4 {
		t.Fatalf("Len() after partial read = %d, want 4", f.Len())
	}
}

func TestWriteAtSparse(t *testing.T) {
	f := buffer.NewFIFO(16)
	f.WriteAt(4, []byte("data"))
	if f.Len() != 8 {
		t.Fatalf("Len() = %d, want 8 (grew to cover sparse write)", f.Len())
	}

	dst := make([]byte, 4)
	if n := f.ReadAt(4, dst); n != 4 || !bytes.Equal(dst, []byte("data")) {
		t.Fatalf("ReadAt(4) = %q, n=%d", dst, n)
	}

	f.WriteAt(0, []byte("lead"))
	dst2 := make([]byte, 8)
	if n := f.ReadAt(0, dst2); n != 8 || !bytes.Equal(dst2, []byte("leaddata")) {
		t.Fatalf("ReadAt(0) = %q, n=%d", dst2, n)
	}
}

func TestAdvanceWraps(t *testing.T) {
	f := buffer.NewFIFO(4)
	f.Append([]byte("ab"))
	f.Advance(2)
	f.Append([]byte("cd"))
	if f.Avail() != 2 {
		t.Fatalf("Avail() = %d, want 2", f.Avail())
	}
	f.Append([]byte("ef"))

	dst := make([]byte, 4)
	n := f.Read(dst)
	if n != 4 || !bytes.Equal(dst, []byte("cdef")) {
		t.Fatalf("Read() = %q n=%d, want cdef", dst[:n], n)
	}
}
