package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation policy and client-facing error
// messages. Kinds are deliberately coarse: the session state machine decides
// per kind whether an error ends the utterance or the session.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota

	// KindConfig marks an invalid option; fatal at startup or session setup.
	KindConfig

	// KindUpstreamUnavailable marks a failed connection to an external
	// service. Ends the utterance, not the session.
	KindUpstreamUnavailable

	// KindUpstreamProtocol marks a non-normal close from an external
	// service, mapped from its close payload code.
	KindUpstreamProtocol

	// KindIdleTimeout marks an STT socket closed by the service due to
	// silence.
	KindIdleTimeout

	// KindBackpressured marks local flow control tripping on an upstream
	// write path.
	KindBackpressured

	// KindClientSlow marks a client that cannot drain its socket; fatal for
	// the session.
	KindClientSlow

	// KindTimeout marks the per-utterance hard ceiling being exceeded.
	KindTimeout

	// KindTranslationFailed marks a transport failure in the translator.
	KindTranslationFailed

	// KindTranslationRefused marks an empty or filtered translator response.
	KindTranslationRefused

	// KindSynthesisFailed marks a transport failure in the TTS service.
	KindSynthesisFailed

	// KindSynthesisEmpty marks a synthesis that produced zero bytes.
	KindSynthesisEmpty
)

// String returns the kind's canonical name. These strings are surfaced
// verbatim to clients in error messages, so they are part of the wire
// contract.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindUpstreamProtocol:
		return "UpstreamProtocol"
	case KindIdleTimeout:
		return "IdleTimeout"
	case KindBackpressured:
		return "Backpressured"
	case KindClientSlow:
		return "ClientSlow"
	case KindTimeout:
		return "Timeout"
	case KindTranslationFailed:
		return "TranslationFailed"
	case KindTranslationRefused:
		return "TranslationRefused"
	case KindSynthesisFailed:
		return "SynthesisFailed"
	case KindSynthesisEmpty:
		return "SynthesisEmpty"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. It wraps an optional cause so callers can
// use errors.Is/errors.As through it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the wrapped cause, which may be nil.
func (e *Error) Unwrap() error { return e.Err }

// Errf creates a classified error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr classifies err under kind with a short context message.
// Returns nil when err is nil.
func WrapErr(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Returns KindUnknown for nil or unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
