package seqnum_test

import (
	"testing"

	"github.com/nullbridge/pseudotcp/seqnum"
)

func TestLessThanWraparound(t *testing.T) {
	var max seqnum.Value = 0xffffffff
	if !max.LessThan(0) {
		t.Errorf("expected %v to be less than 0 across the wraparound", max)
	}
	if seqnum.Value(0).LessThan(max) {
		t.Errorf("expected 0 to not be less than %v across the wraparound", max)
	}
}

func TestSizeAndAdd(t *testing.T) {
	start := seqnum.Value(100)
	end := start.Add(50)
	if got, want := start.Size(end), seqnum.Size(50); got != want {
		t.Errorf("Size() = %v, want %v", got, want)
	}
}

func TestSub(t *testing.T) {
	start := seqnum.Value(100)
	if got, want := start.Sub(1), seqnum.Value(99); got != want {
		t.Errorf("Sub(1) = %v, want %v", got, want)
	}
	if got, want := seqnum.Value(0).Sub(1), seqnum.Value(0xffffffff); got != want {
		t.Errorf("Sub(1) across wraparound = %v, want %v", got, want)
	}
}

func TestInRange(t *testing.T) {
	low := seqnum.Value(100)
	high := low.Add(10)
	cases := []struct {
		v    seqnum.Value
		want bool
	}{
		{99, false},
		{100, true},
		{105, true},
		{109, true},
		{110, false},
	}
	for _, c := range cases {
		if got := c.v.InRange(low, high); got != c.want {
			t.Errorf("InRange(%v, %v, %v) = %v, want %v", c.v, low, high, got, c.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	first := seqnum.Value(1000)
	if !first.InWindow(first, 10) {
		t.Errorf("expected first value to be in its own window")
	}
	if first.Add(10).InWindow(first, 10) {
		t.Errorf("did not expect one-past-the-end value to be in window")
	}
}
