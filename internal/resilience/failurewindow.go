package resilience

import (
	"sync"
	"time"
)

// DefaultFailureWindow is the interval within which a repeated upstream
// outage escalates to session-fatal.
const DefaultFailureWindow = 5 * time.Second

// FailureWindow tracks upstream failures over time. A single failure is
// recoverable; a second failure inside the window means the upstream is
// genuinely down and the session should stop retrying.
type FailureWindow struct {
	// Window is the escalation interval. Defaults to DefaultFailureWindow.
	Window time.Duration

	// now is stubbed in tests.
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Record notes a failure and reports whether it escalates: true when the
// previous failure happened within the window.
func (w *FailureWindow) Record() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	window := w.Window
	if window <= 0 {
		window = DefaultFailureWindow
	}
	nowFn := w.now
	if nowFn == nil {
		nowFn = time.Now
	}

	t := nowFn()
	escalate := !w.last.IsZero() && t.Sub(w.last) <= window
	w.last = t
	return escalate
}

// Reset forgets any recorded failure. Call after a sustained healthy period.
func (w *FailureWindow) Reset() {
	w.mu.Lock()
	w.last = time.Time{}
	w.mu.Unlock()
}
