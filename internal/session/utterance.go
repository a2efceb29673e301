package session

import (
	"fmt"
	"strings"
	"sync"
)

// UtteranceState tracks one utterance through the pipeline. Transitions are
// strictly forward; Failed is absorbing.
type UtteranceState int

const (
	// StateOpen: audio is being recorded into the STT stream.
	StateOpen UtteranceState = iota

	// StateFinalizing: stop received, STT flush requested, draining events.
	StateFinalizing

	// StateFinalized: the final transcript has been selected.
	StateFinalized

	// StateTranslating: awaiting the translator.
	StateTranslating

	// StateSynthesizing: awaiting TTS and streaming audio out.
	StateSynthesizing

	// StateDelivered: translation text and audio reached the client.
	StateDelivered

	// StateFailed is absorbing; a failed utterance never resumes.
	StateFailed
)

// String returns the state name used in logs.
func (s UtteranceState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	case StateTranslating:
		return "translating"
	case StateSynthesizing:
		return "synthesizing"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Utterance accumulates transcripts for one push-to-talk turn or one
// broadcast segment. Safe for concurrent use: the STT egress task appends
// transcripts while the state machine task advances the state.
type Utterance struct {
	// Ordinal is the session-scoped sequence number, assigned at creation
	// and never reused.
	Ordinal uint64

	mu      sync.Mutex
	state   UtteranceState
	finals  []string
	interim string
}

// NewUtterance creates an utterance in StateOpen.
func NewUtterance(ordinal uint64) *Utterance {
	return &Utterance{Ordinal: ordinal}
}

// Advance moves the utterance forward. Moving backwards, skipping states, or
// leaving Failed is an error. Fail is always allowed via Fail().
func (u *Utterance) Advance(to UtteranceState) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateFailed {
		return fmt.Errorf("utterance %d: cannot leave failed state", u.Ordinal)
	}
	if to != u.state+1 || to == StateFailed {
		return fmt.Errorf("utterance %d: invalid transition %s -> %s", u.Ordinal, u.state, to)
	}
	u.state = to
	return nil
}

// Fail marks the utterance failed from any state.
func (u *Utterance) Fail() {
	u.mu.Lock()
	u.state = StateFailed
	u.mu.Unlock()
}

// State returns the current state.
func (u *Utterance) State() UtteranceState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// AddFinal appends a committed transcript segment. Empty segments are
// ignored.
func (u *Utterance) AddFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	u.mu.Lock()
	u.finals = append(u.finals, text)
	u.mu.Unlock()
}

// SetInterim replaces the rolling interim transcript.
func (u *Utterance) SetInterim(text string) {
	u.mu.Lock()
	u.interim = text
	u.mu.Unlock()
}

// Interim returns the latest interim transcript.
func (u *Utterance) Interim() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.interim
}

// FinalText returns the concatenation of all committed segments in arrival
// order. Interim text never contributes: only is_final transcripts feed the
// translator.
func (u *Utterance) FinalText() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return strings.Join(u.finals, " ")
}

// WordCount counts whitespace-separated tokens across the committed
// segments.
func (u *Utterance) WordCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, f := range u.finals {
		n += len(strings.Fields(f))
	}
	return n
}
