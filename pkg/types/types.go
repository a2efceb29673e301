// Package types defines the shared types used across all Babelgate packages.
//
// These types form the lingua franca between the STT, translation, and TTS
// providers, the fan-out hub, and the session state machines. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Direction selects the translation language pair for a conversation session.
type Direction string

const (
	// DirectionCNToEN translates spoken Chinese into English.
	DirectionCNToEN Direction = "cn-en"

	// DirectionENToCN translates spoken English into Chinese.
	DirectionENToCN Direction = "en-cn"
)

// IsValid reports whether d is a recognised direction.
func (d Direction) IsValid() bool {
	return d == DirectionCNToEN || d == DirectionENToCN
}

// SourceLanguage returns the BCP-47 language tag fed to the STT service.
func (d Direction) SourceLanguage() string {
	if d == DirectionCNToEN {
		return "zh-CN"
	}
	return "en-US"
}

// TargetLanguage returns the BCP-47 language tag of the translated output.
func (d Direction) TargetLanguage() string {
	if d == DirectionCNToEN {
		return "en-US"
	}
	return "zh-CN"
}

// EventKind enumerates the kinds of TranscriptEvent emitted by an STT stream.
type EventKind int

const (
	// EventInterim is a non-final best-guess transcript. Supersedable; never
	// fed to the translator.
	EventInterim EventKind = iota

	// EventFinal is a transcript segment the STT service has committed to.
	EventFinal

	// EventSpeechStarted signals voice activity at the head of an utterance.
	EventSpeechStarted

	// EventUtteranceEnd is the coarse silence-gap signal used for utterance
	// segmentation in broadcast mode.
	EventUtteranceEnd

	// EventError is a terminal event carrying the upstream failure. The
	// stream's event channel closes after emitting it.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventSpeechStarted:
		return "speech-started"
	case EventUtteranceEnd:
		return "utterance-end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptEvent is a single event produced by an STT stream. Events are
// consumed exactly once by the owning session.
type TranscriptEvent struct {
	// Kind discriminates the event payload.
	Kind EventKind

	// Text is the transcript content. Empty for SpeechStarted and
	// UtteranceEnd events.
	Text string

	// SpeechFinal reports whether the STT service considers the current
	// pause a natural endpoint (Deepgram speech_final).
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64

	// Channel is the audio channel index the event belongs to.
	Channel int

	// End is the offset of the last word relative to the STT stream start.
	End time.Duration

	// Words contains per-word timing detail when available.
	Words []WordDetail

	// Err carries the upstream failure for EventError events.
	Err error
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranslationResult pairs an original transcript with its translation.
// Produced exactly once per utterance.
type TranslationResult struct {
	Original   string
	Translated string
	Direction  Direction
}

// AudioFrame is one opaque chunk of container audio in the forwarding path.
// Frames are ephemeral: the hub copies the payload when more than one
// subscriber holds a reference.
type AudioFrame struct {
	// Data is the opaque container payload (Opus/WebM, linear16 PCM, or an
	// MP3-family TTS artifact). Never transcoded by the core.
	Data []byte

	// Arrival is when the frame entered the gateway.
	Arrival time.Time
}
