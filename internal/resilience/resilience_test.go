package resilience

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	b := &Backoff{Initial: 1 * time.Second, Max: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next()[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := &Backoff{Initial: 1 * time.Second}
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("after Reset, Next() = %v, want 1s", got)
	}
}

func TestBackoff_ZeroValueDefaults(t *testing.T) {
	var b Backoff
	if got := b.Next(); got != DefaultBackoff {
		t.Errorf("Next() = %v, want %v", got, DefaultBackoff)
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := &Backoff{Initial: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestFailureWindow(t *testing.T) {
	now := time.Now()
	w := &FailureWindow{Window: 5 * time.Second, now: func() time.Time { return now }}

	if w.Record() {
		t.Error("first failure must not escalate")
	}
	now = now.Add(3 * time.Second)
	if !w.Record() {
		t.Error("second failure within window must escalate")
	}

	now = now.Add(10 * time.Second)
	if w.Record() {
		t.Error("failure outside window must not escalate")
	}
}

func TestFailureWindow_Reset(t *testing.T) {
	now := time.Now()
	w := &FailureWindow{Window: 5 * time.Second, now: func() time.Time { return now }}

	w.Record()
	w.Reset()
	now = now.Add(time.Second)
	if w.Record() {
		t.Error("failure after Reset must not escalate")
	}
}
