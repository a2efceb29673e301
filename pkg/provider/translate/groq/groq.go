// Package groq provides a Translator backed by the Groq chat-completion API
// through github.com/mozilla-ai/any-llm-go.
package groq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	groqlib "github.com/mozilla-ai/any-llm-go/providers/groq"

	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/types"
)

const defaultModel = "llama-3.1-8b-instant"

// Translator implements translate.Translator against Groq.
type Translator struct {
	backend anyllmlib.Provider
	model   string
	style   translate.Style
	timeout time.Duration
}

// config holds optional configuration for the translator.
type config struct {
	model   string
	baseURL string
	style   translate.Style
	timeout time.Duration
}

// Option is a functional option for Translator.
type Option func(*config)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL points the client at a Groq-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithStyle selects the prompt register. Default is StyleExact.
func WithStyle(style translate.Style) Option {
	return func(c *config) {
		c.style = style
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Groq-backed Translator.
func New(apiKey string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, types.Errf(types.KindConfig, "groq: apiKey must not be empty")
	}

	cfg := &config{
		model:   defaultModel,
		style:   translate.StyleExact,
		timeout: translate.DefaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	libOpts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(cfg.baseURL))
	}
	backend, err := groqlib.New(libOpts...)
	if err != nil {
		return nil, types.WrapErr(types.KindConfig, "groq: create backend", err)
	}

	return &Translator{
		backend: backend,
		model:   cfg.model,
		style:   cfg.style,
		timeout: cfg.timeout,
	}, nil
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string, dir types.Direction) (string, error) {
	if !dir.IsValid() {
		return "", types.Errf(types.KindConfig, "groq: invalid direction %q", dir)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	temperature := translate.DefaultTemperature
	maxTokens := translate.DefaultMaxTokens
	params := anyllmlib.CompletionParams{
		Model: t.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: translate.SystemPrompt(dir, t.style)},
			{Role: "user", Content: text},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	resp, err := t.backend.Completion(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", types.WrapErr(types.KindTimeout, "groq: completion deadline exceeded", err)
		}
		return "", types.WrapErr(types.KindTranslationFailed, "groq: completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.Errf(types.KindTranslationRefused, "groq: empty choices in response")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if out == "" {
		return "", types.Errf(types.KindTranslationRefused, "groq: empty translation")
	}
	return out, nil
}

// String identifies the backend in logs.
func (t *Translator) String() string {
	return fmt.Sprintf("groq(%s)", t.model)
}

var _ translate.Translator = (*Translator)(nil)
