package clock

import (
	"testing"
	"time"
)

func TestNowUsMonotonic(t *testing.T) {
	c := New()
	t1 := c.NowUs()
	time.Sleep(2 * time.Millisecond)
	t2 := c.NowUs()
	if t2 < t1 {
		t.Fatalf("clock went backwards: t1=%d t2=%d", t1, t2)
	}
}

func TestDefaultIsProcessWide(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default() must return the same instance across calls")
	}
}

func TestNowUsAdvancesByElapsed(t *testing.T) {
	c := New()
	t1 := c.NowUs()
	time.Sleep(10 * time.Millisecond)
	t2 := c.NowUs()
	delta := t2 - t1
	if delta < 5000 || delta > 100000 {
		t.Fatalf("expected delta near 10ms in microseconds, got %d", delta)
	}
}
