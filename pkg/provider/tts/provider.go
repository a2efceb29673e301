// Package tts defines the text-to-speech client interface. Synthesis is
// buffered: a provider must deliver the complete audio before returning, so
// the forwarder can send the browser one self-contained clip per utterance.
package tts

import (
	"context"
	"time"

	"github.com/MrWong99/babelgate/pkg/types"
)

// DefaultTimeout bounds a single synthesis request.
const DefaultTimeout = 8 * time.Second

// Request describes one synthesis call.
type Request struct {
	// Text is the text to speak. Must be non-empty.
	Text string

	// Voice is the provider-specific voice name. If empty, the provider
	// picks its default.
	Voice string

	// Rate is an optional prosody rate adjustment (e.g. "+10%").
	Rate string

	// Pitch is an optional prosody pitch adjustment (e.g. "-5Hz").
	Pitch string
}

// Result is the fully buffered synthesis output. Format declares the
// container type so the downstream forwarder can tag the client frame.
type Result struct {
	// Format is the MIME type of Data (e.g. "audio/mpeg").
	Format string

	// Data is the complete synthesized clip. Never empty on success.
	Data []byte
}

// Provider performs buffered speech synthesis. Errors carry the kinds
// SynthesisFailed (transport), SynthesisEmpty (zero bytes), or Timeout.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// VoiceFor maps a translation direction to the voice that speaks the target
// language.
func VoiceFor(dir types.Direction) string {
	if dir == types.DirectionCNToEN {
		return "en-US-GuyNeural"
	}
	return "zh-CN-YunxiNeural"
}
