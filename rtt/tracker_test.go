package rtt

import (
	"testing"
	"time"
)

func TestTrackerRecordAndSample(t *testing.T) {
	tr := NewTracker()
	t0 := time.Unix(0, 0)

	tr.Record(1000, t0)
	d, ok := tr.Sample(1000, t0.Add(150*time.Millisecond))
	if !ok {
		t.Fatal("sample not found")
	}
	if d != 150*time.Millisecond {
		t.Fatalf("elapsed = %v, want 150ms", d)
	}
}

func TestTrackerSampleConsumesEntry(t *testing.T) {
	tr := NewTracker()
	t0 := time.Unix(0, 0)
	tr.Record(42, t0)

	if _, ok := tr.Sample(42, t0); !ok {
		t.Fatal("first sample should succeed")
	}
	if _, ok := tr.Sample(42, t0); ok {
		t.Fatal("second sample on same echo should fail: entry already consumed")
	}
}

func TestTrackerUnknownEchoRejected(t *testing.T) {
	tr := NewTracker()
	tr.Record(1, time.Unix(0, 0))
	if _, ok := tr.Sample(999, time.Unix(0, 0)); ok {
		t.Fatal("unknown echo timestamp should not produce a sample")
	}
}

func TestTrackerZeroEchoRejected(t *testing.T) {
	tr := NewTracker()
	tr.Record(0, time.Unix(0, 0))
	if _, ok := tr.Sample(0, time.Unix(0, 0)); ok {
		t.Fatal("echo timestamp of 0 must never produce a sample")
	}
}

func TestTrackerEvictsOldestWhenFull(t *testing.T) {
	tr := NewTracker()
	t0 := time.Unix(0, 0)

	// Fill the ring entirely, then push one more: the oldest (ts=1)
	// is evicted in favor of the newest. Timestamps start at 1 because
	// an echo of 0 is rejected regardless of eviction.
	for i := 1; i <= ringSize; i++ {
		tr.Record(uint64(i), t0)
	}
	tr.Record(uint64(ringSize+1), t0)

	if _, ok := tr.Sample(1, t0); ok {
		t.Fatal("evicted entry 1 should not be sampleable")
	}
	if _, ok := tr.Sample(uint64(ringSize+1), t0); !ok {
		t.Fatal("newest entry should still be sampleable")
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Record(7, time.Unix(0, 0))
	tr.Reset()
	if _, ok := tr.Sample(7, time.Unix(0, 0)); ok {
		t.Fatal("sample survived Reset")
	}
}

func TestTrackerNegativeElapsedRejected(t *testing.T) {
	tr := NewTracker()
	t0 := time.Unix(10, 0)
	tr.Record(1, t0)
	// An echo observed before the recorded send instant (clock skew in
	// the test harness, not a real scenario) must not yield a sample.
	if _, ok := tr.Sample(1, t0.Add(-time.Second)); ok {
		t.Fatal("negative elapsed duration should not produce a sample")
	}
}
