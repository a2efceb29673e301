// Package mock provides a test double for the translate.Translator interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/types"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	// Text is the input text passed to Translate.
	Text string
	// Dir is the direction passed to Translate.
	Dir types.Direction
}

// Translator is a mock implementation of translate.Translator.
type Translator struct {
	mu sync.Mutex

	// Result is returned by Translate when TranslateFunc is unset. If empty,
	// Translate echoes the input prefixed with "T:" so ordering is visible
	// in assertions.
	Result string

	// Err, if non-nil, is returned by every Translate call.
	Err error

	// TranslateFunc, if set, overrides Result/Err entirely.
	TranslateFunc func(ctx context.Context, text string, dir types.Direction) (string, error)

	// TranslateCalls records every call in order.
	TranslateCalls []TranslateCall
}

// Translate records the call and returns the configured response.
func (t *Translator) Translate(ctx context.Context, text string, dir types.Direction) (string, error) {
	t.mu.Lock()
	t.TranslateCalls = append(t.TranslateCalls, TranslateCall{Text: text, Dir: dir})
	fn := t.TranslateFunc
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, dir)
	}
	if err != nil {
		return "", err
	}
	if res == "" {
		return "T:" + text, nil
	}
	return res, nil
}

// Calls returns a snapshot of recorded calls. Thread-safe.
func (t *Translator) Calls() []TranslateCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranslateCall(nil), t.TranslateCalls...)
}

var _ translate.Translator = (*Translator)(nil)
