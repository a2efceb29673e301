package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/babelgate/pkg/types"
)

// TranslatorProviders lists the registered translator backend names.
var TranslatorProviders = []string{"groq", "openai"}

// FromEnv builds the effective configuration: documented defaults, overlaid
// by the YAML file named in CONFIG_FILE (if set), overlaid by the
// environment. The result is validated.
func FromEnv() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML configuration file at path. Unlike [FromEnv] it does
// not validate; file values may be partial and completed by the environment.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapErr(types.KindConfig, fmt.Sprintf("config: open %q", path), err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, types.WrapErr(types.KindConfig, fmt.Sprintf("config: parse %q", path), err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults.
// Unknown fields are an error so typos do not silently disappear.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) error {
	var errs []error

	setStr := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", name, v))
			return
		}
		*dst = n
	}

	setInt("PORT", &cfg.Server.Port)
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}

	cert, key := os.Getenv("TLS_CERT"), os.Getenv("TLS_KEY")
	if cert != "" || key != "" {
		cfg.Server.TLS = &TLSConfig{CertFile: cert, KeyFile: key}
	}

	setStr("STT_API_KEY", &cfg.STT.APIKey)
	setStr("STT_ENDPOINT", &cfg.STT.Endpoint)
	setStr("STT_MODEL", &cfg.STT.Model)
	setInt("UTTERANCE_END_MS", &cfg.STT.UtteranceEndMS)
	setInt("ENDPOINTING_MS", &cfg.STT.EndpointingMS)

	setStr("LLM_API_KEY", &cfg.Translator.APIKey)
	setStr("LLM_PROVIDER", &cfg.Translator.Provider)
	setStr("LLM_BASE_URL", &cfg.Translator.BaseURL)
	setStr("LLM_MODEL", &cfg.Translator.Model)

	setStr("BROADCAST_DIRECTION", &cfg.Broadcast.Direction)

	setInt("TRAILING_MS", &cfg.Conversation.TrailingMS)
	setInt("HARD_CEILING_MS", &cfg.Conversation.HardCeilingMS)
	setInt("MAX_UTTERANCE_MS", &cfg.Conversation.MaxUtteranceMS)
	setInt("MAX_SESSIONS", &cfg.Conversation.MaxSessions)

	setInt("SUBSCRIBER_QUEUE", &cfg.Hub.QueueDepth)
	setInt("MAX_SUBSCRIBERS", &cfg.Hub.MaxSubscribers)
	if v, ok := os.LookupEnv("OVERFLOW_POLICY"); ok {
		cfg.Hub.OverflowPolicy = OverflowPolicy(v)
	}

	if len(errs) > 0 {
		return types.WrapErr(types.KindConfig, "config: environment", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.STT.APIKey == "" {
		errs = append(errs, errors.New("stt.api_key is required (STT_API_KEY)"))
	}
	if cfg.STT.UtteranceEndMS < 0 || cfg.STT.EndpointingMS < 0 {
		errs = append(errs, errors.New("stt gap settings must not be negative"))
	}

	if cfg.Translator.APIKey == "" {
		errs = append(errs, errors.New("translator.api_key is required (LLM_API_KEY)"))
	}
	if !knownTranslator(cfg.Translator.Provider) {
		errs = append(errs, fmt.Errorf("translator.provider %q is invalid; valid values: %v", cfg.Translator.Provider, TranslatorProviders))
	}

	if !types.Direction(cfg.Broadcast.Direction).IsValid() {
		errs = append(errs, fmt.Errorf("broadcast.direction %q is invalid; valid values: cn-en, en-cn", cfg.Broadcast.Direction))
	}
	for _, t := range []struct {
		name  string
		value int
	}{
		{"broadcast.min_words_sentence", cfg.Broadcast.MinWordsSentence},
		{"broadcast.min_words_pause", cfg.Broadcast.MinWordsPause},
		{"broadcast.force_words", cfg.Broadcast.ForceWords},
		{"broadcast.min_words_utterance_end", cfg.Broadcast.MinWordsUtteranceEnd},
	} {
		if t.value < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", t.name))
		}
	}

	if cfg.Conversation.HardCeilingMS < 1000 {
		errs = append(errs, fmt.Errorf("conversation.hard_ceiling_ms %d is too small; minimum 1000", cfg.Conversation.HardCeilingMS))
	}
	if cfg.Conversation.TrailingMS < 0 {
		errs = append(errs, errors.New("conversation.trailing_ms must not be negative"))
	}
	if cfg.Conversation.MaxSessions < 1 {
		errs = append(errs, errors.New("conversation.max_sessions must be at least 1"))
	}

	if cfg.Hub.QueueDepth < 1 {
		errs = append(errs, errors.New("hub.queue_depth must be at least 1"))
	}
	if cfg.Hub.MaxSubscribers < 1 {
		errs = append(errs, errors.New("hub.max_subscribers must be at least 1"))
	}
	if !cfg.Hub.OverflowPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("hub.overflow_policy %q is invalid; valid values: drop-oldest, disconnect", cfg.Hub.OverflowPolicy))
	}

	if err := errors.Join(errs...); err != nil {
		return types.WrapErr(types.KindConfig, "config: validate", err)
	}
	return nil
}

func knownTranslator(name string) bool {
	for _, n := range TranslatorProviders {
		if n == name {
			return true
		}
	}
	return false
}
