package replay

import "testing"

func TestWindowFirstNonceAccepted(t *testing.T) {
	var w Window
	if v := w.CheckAndUpdate(42); v != Ok {
		t.Fatalf("first nonce: got %v, want Ok", v)
	}
	if w.HighestSeen() != 42 {
		t.Fatalf("highest = %d, want 42", w.HighestSeen())
	}
}

// S2 — replay rejection sequence from 2-TRANSPORT.md §8.
func TestWindowSequenceS2(t *testing.T) {
	var w Window
	seq := []uint64{0, 1, 2, 5, 4, 2, 10000}
	want := []Verdict{Ok, Ok, Ok, Ok, Ok, ReplayInWindow, Ok}

	for i, n := range seq {
		got := w.CheckAndUpdate(n)
		if got != want[i] {
			t.Fatalf("step %d (nonce=%d): got %v, want %v", i, n, got, want[i])
		}
	}
}

func TestWindowBelowWindowThreshold(t *testing.T) {
	var w Window
	w.CheckAndUpdate(100000)

	// Exactly at the trailing edge (highest-2047) must still be
	// reachable and new.
	edge := w.HighestSeen() - (WindowBits - 1)
	if v := w.CheckAndUpdate(edge); v != Ok {
		t.Fatalf("edge nonce %d: got %v, want Ok", edge, v)
	}
	// One below the edge must be rejected as below-window.
	if v := w.CheckAndUpdate(edge - 1); v != ReplayBelowWindow {
		t.Fatalf("below-edge nonce %d: got %v, want ReplayBelowWindow", edge-1, v)
	}
}

func TestWindowDuplicateInWindowRejected(t *testing.T) {
	var w Window
	w.CheckAndUpdate(10)
	w.CheckAndUpdate(5)
	if v := w.CheckAndUpdate(5); v != ReplayInWindow {
		t.Fatalf("duplicate: got %v, want ReplayInWindow", v)
	}
}

func TestWindowAcceptedNoncesAreSubsetWithoutDuplicates(t *testing.T) {
	var w Window
	inserted := []uint64{1, 2, 3, 100, 50, 75, 50, 100, 3, 200}
	seen := map[uint64]bool{}
	for _, n := range inserted {
		v := w.CheckAndUpdate(n)
		if v == Ok {
			if seen[n] {
				t.Fatalf("nonce %d accepted twice", n)
			}
			seen[n] = true
		}
	}
	for n := range seen {
		found := false
		for _, ins := range inserted {
			if ins == n {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("accepted nonce %d was never inserted", n)
		}
	}
}

func TestWindowLargeJumpResetsWindow(t *testing.T) {
	var w Window
	w.CheckAndUpdate(5)
	w.CheckAndUpdate(10_000_000)
	// Anything far below the new highest is below-window, not a panic
	// or an out-of-range index.
	if v := w.CheckAndUpdate(1); v != ReplayBelowWindow {
		t.Fatalf("got %v, want ReplayBelowWindow", v)
	}
}

func TestWindowReset(t *testing.T) {
	var w Window
	w.CheckAndUpdate(500)
	w.Reset()
	if v := w.CheckAndUpdate(0); v != Ok {
		t.Fatalf("post-reset nonce 0: got %v, want Ok", v)
	}
	if w.HighestSeen() != 0 {
		t.Fatalf("highest after reset+insert(0) = %d, want 0", w.HighestSeen())
	}
}
