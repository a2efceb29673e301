// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is Stream: once
// opened, a stream accepts opaque audio frames and emits a lazy, finite
// sequence of transcript events — low-latency interims for UI feedback and
// authoritative finals that feed the translator.
//
// Implementations must be safe for concurrent use. Exactly one stream is
// open per active utterance; a session never holds two concurrent streams.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/babelgate/pkg/types"
)

// ErrClosed is returned by Send and Finalize once the stream has terminated.
var ErrClosed = errors.New("stt: stream is closed")

// ErrBackpressured is returned by Send when the upstream write buffer is
// full beyond the configured high-water mark. The frame is dropped; callers
// decide whether to retry, skip, or abort.
var ErrBackpressured = errors.New("stt: upstream write buffer full")

// StreamConfig describes the audio format and recognition options for a new
// STT stream. The zero value is invalid; at minimum Language must be set.
type StreamConfig struct {
	// Model selects the recognition model (e.g., "nova-3", "nova-2").
	// Empty uses the provider default.
	Model string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "zh-CN").
	Language string

	// InterimResults enables non-final transcript events.
	InterimResults bool

	// UtteranceEndMS is the coarse silence gap, in milliseconds, after which
	// the service emits an utterance-end event. Zero disables the event.
	UtteranceEndMS int

	// EndpointingMS is the fine silence gap, in milliseconds, used by the
	// service to chunk the audio stream.
	EndpointingMS int

	// VADEvents enables speech-started events.
	VADEvents bool

	// Encoding names the raw audio encoding (e.g., "linear16") when the
	// publisher negotiates uncontainerized audio. Empty means the frames
	// carry a self-describing container the service sniffs.
	Encoding string

	// SampleRate is the sample rate in Hz. Required when Encoding is set.
	SampleRate int

	// Channels is the audio channel count. Zero means provider default.
	Channels int
}

// Stream represents one open STT streaming session. It is an interface so
// that session tests can script transcript sequences without a live socket.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so leaks the provider's goroutines and network connection.
// All methods are safe for concurrent use.
type Stream interface {
	// Send enqueues one opaque audio frame for delivery upstream. It never
	// blocks: when the internal write buffer is beyond its high-water mark
	// Send drops the frame and returns ErrBackpressured. After the stream
	// terminates Send returns ErrClosed.
	Send(frame []byte) error

	// Finalize asks the service to flush all buffered audio. Transcript
	// events keep flowing on Events until the service indicates completion.
	Finalize() error

	// Close sends the service's close message, waits for its final metadata
	// event, and tears the socket down. The Events channel is closed before
	// Close returns. Calling Close more than once is a no-op returning nil.
	Close() error

	// Events returns the stream's transcript event sequence. It is lazy,
	// finite, and not restartable: the channel closes when the upstream
	// socket terminates, after a terminal error event if the close was not
	// clean.
	Events() <-chan types.TranscriptEvent
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use; multiple streams may be
// open simultaneously (one per session).
type Provider interface {
	// Open establishes a new streaming transcription session. It returns a
	// ConfigError-classified error for invalid options and an
	// UpstreamUnavailable-classified error when the service cannot be
	// reached. The caller owns the Stream and must call Close when done.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
