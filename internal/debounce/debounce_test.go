package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTrigger_RunsLastOnly(t *testing.T) {
	d := New(30 * time.Millisecond)
	var calls atomic.Int32
	var last atomic.Value
	done := make(chan struct{}, 1)

	for _, q := range []string{"a", "ab", "abc"} {
		q := q
		d.Trigger("chat", func() {
			calls.Add(1)
			last.Store(q)
			done <- struct{}{}
		})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced function never ran")
	}
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 || last.Load() != "abc" {
		t.Fatalf("calls = %d last = %v", calls.Load(), last.Load())
	}
	if d.Pending() != 0 {
		t.Fatalf("pending = %d", d.Pending())
	}
}

func TestTrigger_KeysIndependent(t *testing.T) {
	d := New(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger("a", func() { calls.Add(1) })
	d.Trigger("b", func() { calls.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCancelAndStop(t *testing.T) {
	d := New(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger("a", func() { calls.Add(1) })
	d.Cancel("a")
	d.Trigger("b", func() { calls.Add(1) })
	d.Stop()
	d.Trigger("c", func() { calls.Add(1) })
	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", calls.Load())
	}
}
