// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller opens streams with the expected
// StreamConfig. Use Stream to feed controlled TranscriptEvent values and
// inspect which audio frames were delivered.
//
// Example:
//
//	st := mock.NewStream()
//	p := &mock.Provider{Stream: st}
//	s, _ := p.Open(ctx, cfg)
//	st.Emit(types.TranscriptEvent{Kind: types.EventFinal, Text: "hello"})
//	st.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelgate/pkg/provider/stt"
	"github.com/MrWong99/babelgate/pkg/types"
)

// OpenCall records a single invocation of Provider.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
	// Cfg is the StreamConfig passed to Open.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh NewStream().
	Stream stt.Stream

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenFunc, if set, overrides Stream/OpenErr entirely. Useful for tests
	// that need a distinct stream per utterance or per reconnect attempt.
	OpenFunc func(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error)

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns the configured stream.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Ctx: ctx, Cfg: cfg})
	fn := p.OpenFunc
	st, err := p.Stream, p.OpenErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}
	return NewStream(), nil
}

// Calls returns a snapshot of recorded Open calls. Thread-safe.
func (p *Provider) Calls() []OpenCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OpenCall(nil), p.OpenCalls...)
}

var _ stt.Provider = (*Provider)(nil)

// Stream is a scripted implementation of stt.Stream. Tests push events with
// Emit and terminate the stream with End; the consumer under test reads them
// from Events.
type Stream struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// FinalizeErr, if non-nil, is returned by Finalize.
	FinalizeErr error

	// CloseErr, if non-nil, is returned by every Close.
	CloseErr error

	// OnFinalize, if set, runs inside Finalize. Lets a test emit the final
	// transcript in direct response to the flush request.
	OnFinalize func()

	// OnClose, if set, runs inside the first Close before the events channel
	// is torn down.
	OnClose func()

	// Sent records a copy of every non-empty frame passed to Send.
	Sent [][]byte

	// FinalizeCalls counts Finalize invocations.
	FinalizeCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	events    chan types.TranscriptEvent
	ended     bool
	closeOnce sync.Once
}

// NewStream returns a Stream with a buffered events channel.
func NewStream() *Stream {
	return &Stream{events: make(chan types.TranscriptEvent, 64)}
}

// Emit queues an event for the consumer. Emit after End is a no-op.
func (s *Stream) Emit(ev types.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End terminates the event stream. A non-nil err is delivered first as a
// terminal EventError, mirroring how a real stream reports upstream failure.
// End is idempotent.
func (s *Stream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err != nil {
		s.events <- types.TranscriptEvent{Kind: types.EventError, Err: err}
	}
	close(s.events)
}

// Send records the frame and returns SendErr.
func (s *Stream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(frame) > 0 {
		s.Sent = append(s.Sent, append([]byte(nil), frame...))
	}
	return s.SendErr
}

// Finalize records the call, runs OnFinalize, and returns FinalizeErr.
func (s *Stream) Finalize() error {
	s.mu.Lock()
	s.FinalizeCalls++
	fn := s.OnFinalize
	err := s.FinalizeErr
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

// Close records the call, runs OnClose once, and ends the stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	fn := s.OnClose
	err := s.CloseErr
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		if fn != nil {
			fn()
		}
		s.End(nil)
	})
	return err
}

// Events returns the scripted event channel.
func (s *Stream) Events() <-chan types.TranscriptEvent {
	return s.events
}

// SentFrames returns a snapshot of recorded frames. Thread-safe.
func (s *Stream) SentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Sent...)
}

var _ stt.Stream = (*Stream)(nil)
