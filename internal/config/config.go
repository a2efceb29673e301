// Package config provides the configuration schema and loader for the
// babelgate translation gateway. Configuration is environment-first: every
// knob has an env variable, and an optional YAML file supplies defaults that
// the environment overrides.
package config

import (
	"github.com/MrWong99/babelgate/pkg/types"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OverflowPolicy selects what happens to a subscriber whose queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued frame.
	OverflowDropOldest OverflowPolicy = "drop-oldest"

	// OverflowDisconnect removes the slow subscriber.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowDropOldest || p == OverflowDisconnect
}

// Config is the root configuration structure for the gateway.
// Load it with [FromEnv]; YAML files use [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	STT          STTConfig          `yaml:"stt"`
	Translator   TranslatorConfig   `yaml:"translator"`
	Broadcast    BroadcastConfig    `yaml:"broadcast"`
	Conversation ConversationConfig `yaml:"conversation"`
	Hub          HubConfig          `yaml:"hub"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP and clients connect over ws rather than wss.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// STTConfig configures the streaming speech-to-text upstream.
type STTConfig struct {
	// APIKey is the credential for the STT service. Required.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the default upstream websocket URL.
	Endpoint string `yaml:"endpoint"`

	// Model selects the recognition model. Empty uses the provider default.
	Model string `yaml:"model"`

	// UtteranceEndMS is the silence gap that closes an utterance in
	// broadcast mode.
	UtteranceEndMS int `yaml:"utterance_end_ms"`

	// EndpointingMS is the endpointing gap passed to the upstream.
	EndpointingMS int `yaml:"endpointing_ms"`
}

// TranslatorConfig selects and configures the chat-completion translator.
type TranslatorConfig struct {
	// Provider selects the registered backend, "groq" or "openai".
	Provider string `yaml:"provider"`

	// APIKey is the credential for the translation service. Required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the chat model. Empty uses the backend default.
	Model string `yaml:"model"`
}

// BroadcastConfig holds the segmentation thresholds for broadcast mode.
type BroadcastConfig struct {
	// Direction of the broadcast translation, "en-cn" or "cn-en".
	Direction string `yaml:"direction"`

	// MinWordsSentence flushes the transcript buffer at a sentence boundary.
	MinWordsSentence int `yaml:"min_words_sentence"`

	// MinWordsPause flushes at a detected speech pause.
	MinWordsPause int `yaml:"min_words_pause"`

	// ForceWords flushes unconditionally.
	ForceWords int `yaml:"force_words"`

	// MinWordsUtteranceEnd is the minimum tail worth translating after a
	// long silence gap; shorter tails are discarded.
	MinWordsUtteranceEnd int `yaml:"min_words_utterance_end"`
}

// ConversationConfig holds the push-to-talk timing contracts.
type ConversationConfig struct {
	// TrailingMS keeps audio flowing to STT after the stop signal.
	TrailingMS int `yaml:"trailing_ms"`

	// HardCeilingMS bounds stop-to-audio processing per utterance.
	HardCeilingMS int `yaml:"hard_ceiling_ms"`

	// MaxUtteranceMS caps recording length for one push.
	MaxUtteranceMS int `yaml:"max_utterance_ms"`

	// MaxSessions caps concurrent conversation sessions.
	MaxSessions int `yaml:"max_sessions"`
}

// HubConfig configures the broadcast fan-out.
type HubConfig struct {
	// QueueDepth is the per-subscriber frame queue size.
	QueueDepth int `yaml:"queue_depth"`

	// MaxSubscribers caps concurrent broadcast listeners.
	MaxSubscribers int `yaml:"max_subscribers"`

	// OverflowPolicy selects the slow-subscriber behaviour.
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`
}

// Default returns a Config with every knob at its documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     5050,
			LogLevel: LogInfo,
		},
		STT: STTConfig{
			UtteranceEndMS: 1000,
			EndpointingMS:  300,
		},
		Translator: TranslatorConfig{
			Provider: "groq",
		},
		Broadcast: BroadcastConfig{
			Direction:            string(types.DirectionENToCN),
			MinWordsSentence:     10,
			MinWordsPause:        25,
			ForceWords:           40,
			MinWordsUtteranceEnd: 8,
		},
		Conversation: ConversationConfig{
			TrailingMS:     700,
			HardCeilingMS:  15000,
			MaxUtteranceMS: 30000,
			MaxSessions:    32,
		},
		Hub: HubConfig{
			QueueDepth:     32,
			MaxSubscribers: 64,
			OverflowPolicy: OverflowDropOldest,
		},
	}
}
