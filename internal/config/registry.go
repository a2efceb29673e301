package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/provider/translate/groq"
	"github.com/MrWong99/babelgate/pkg/provider/translate/openai"
)

// ErrProviderNotRegistered is returned by Create methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranslatorFactory builds a translator from its configuration block and the
// prompt register it should speak with.
type TranslatorFactory func(TranslatorConfig, translate.Style) (translate.Translator, error)

// Registry maps translator provider names to constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	translators map[string]TranslatorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{translators: make(map[string]TranslatorFactory)}
}

// RegisterTranslator registers a translator factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranslator(name string, factory TranslatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translators[name] = factory
}

// CreateTranslator instantiates the translator selected by cfg.Provider.
// Conversation sessions want [translate.StyleExact]; the broadcast pipeline
// wants [translate.StyleSimultaneous].
func (r *Registry) CreateTranslator(cfg TranslatorConfig, style translate.Style) (translate.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translators[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translator %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg, style)
}

// DefaultRegistry returns a registry with the built-in translator backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterTranslator("groq", func(cfg TranslatorConfig, style translate.Style) (translate.Translator, error) {
		opts := []groq.Option{groq.WithStyle(style)}
		if cfg.Model != "" {
			opts = append(opts, groq.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, groq.WithBaseURL(cfg.BaseURL))
		}
		return groq.New(cfg.APIKey, opts...)
	})
	r.RegisterTranslator("openai", func(cfg TranslatorConfig, style translate.Style) (translate.Translator, error) {
		opts := []openai.Option{openai.WithStyle(style)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, opts...)
	})
	return r
}
