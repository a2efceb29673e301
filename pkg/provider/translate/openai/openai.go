// Package openai provides a Translator backed by the OpenAI chat-completion
// API, or any OpenAI-compatible endpoint via WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/types"
)

const defaultModel = "gpt-4o-mini"

// Translator implements translate.Translator using the OpenAI API.
type Translator struct {
	client  oai.Client
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

// WithBaseURL points the client at an OpenAI-compatible endpoint.
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

// New constructs an OpenAI-backed Translator.
func New(apiKey string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, types.Errf(types.KindConfig, "openai: apiKey must not be empty")
	}

	cfg := &config{
		model:   defaultModel,
		style:   translate.StyleExact,
		timeout: translate.DefaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Translator{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		style:   cfg.style,
		timeout: cfg.timeout,
	}, nil
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string, dir types.Direction) (string, error) {
	if !dir.IsValid() {
		return "", types.Errf(types.KindConfig, "openai: invalid direction %q", dir)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translate.SystemPrompt(dir, t.style)),
			oai.UserMessage(text),
		},
		Temperature:         param.NewOpt(float64(translate.DefaultTemperature)),
		MaxCompletionTokens: param.NewOpt(int64(translate.DefaultMaxTokens)),
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", types.WrapErr(types.KindTimeout, "openai: completion deadline exceeded", err)
		}
		return "", types.WrapErr(types.KindTranslationFailed, "openai: chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.Errf(types.KindTranslationRefused, "openai: empty choices in response")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", types.Errf(types.KindTranslationRefused, "openai: empty translation")
	}
	return out, nil
}

// String identifies the backend in logs.
func (t *Translator) String() string {
	return fmt.Sprintf("openai(%s)", t.model)
}

var _ translate.Translator = (*Translator)(nil)
