package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValidWithCredentials(t *testing.T) {
	cfg := Default()
	cfg.STT.APIKey = "dg-key"
	cfg.Translator.APIKey = "llm-key"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(Default) = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.STT.APIKey = "dg-key"
		cfg.Translator.APIKey = "llm-key"
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing stt key", func(c *Config) { c.STT.APIKey = "" }, "stt.api_key"},
		{"missing llm key", func(c *Config) { c.Translator.APIKey = "" }, "translator.api_key"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"half tls", func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} }, "server.tls"},
		{"bad translator", func(c *Config) { c.Translator.Provider = "bard" }, "translator.provider"},
		{"bad direction", func(c *Config) { c.Broadcast.Direction = "de-fr" }, "broadcast.direction"},
		{"zero trigger", func(c *Config) { c.Broadcast.ForceWords = 0 }, "broadcast.force_words"},
		{"tiny ceiling", func(c *Config) { c.Conversation.HardCeilingMS = 500 }, "hard_ceiling_ms"},
		{"zero sessions", func(c *Config) { c.Conversation.MaxSessions = 0 }, "max_sessions"},
		{"zero queue", func(c *Config) { c.Hub.QueueDepth = 0 }, "queue_depth"},
		{"bad policy", func(c *Config) { c.Hub.OverflowPolicy = "block" }, "overflow_policy"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := valid()
			c.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestValidateJoinsAllFailures(t *testing.T) {
	cfg := Default() // no credentials at all
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"stt.api_key", "translator.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error is missing %q: %v", want, err)
		}
	}
}

func TestLogLevelIsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%s should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace should not be valid")
	}
}

func TestOverflowPolicyIsValid(t *testing.T) {
	if !OverflowDropOldest.IsValid() || !OverflowDisconnect.IsValid() {
		t.Error("built-in policies should be valid")
	}
	if OverflowPolicy("block").IsValid() {
		t.Error("block should not be valid")
	}
}
