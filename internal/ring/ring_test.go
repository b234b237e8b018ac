package ring

import "testing"

func TestPushPopOrder(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	if v, ok := r.Pop(); !ok || v != 1 {
		t.Fatalf("expected 1, got %v %v", v, ok)
	}
	if v, ok := r.Pop(); !ok || v != 2 {
		t.Fatalf("expected 2, got %v %v", v, ok)
	}
}

func TestPopEmpty(t *testing.T) {
	r := New[int](4)
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring to report not-ok")
	}
}

func TestOverwriteOldestWhenFull(t *testing.T) {
	r := New[int](4) // rounds to 4
	for i := 0; i < 6; i++ {
		r.Push(i)
	}
	// Capacity 4, pushed 0..5: oldest two (0,1) overwritten.
	got := r.Snapshot()
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRoundsCapacityToPowerOfTwo(t *testing.T) {
	r := New[int](5)
	if len(r.buf) != 8 {
		t.Fatalf("expected capacity 8, got %d", len(r.buf))
	}
}
