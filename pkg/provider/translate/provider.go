// Package translate defines the translator client interface: one chat
// completion per request, with a system prompt that pins the output to the
// target language and forbids commentary.
package translate

import (
	"context"
	"time"

	"github.com/MrWong99/babelgate/pkg/types"
)

// DefaultTimeout bounds a single translation request.
const DefaultTimeout = 4 * time.Second

// DefaultMaxTokens caps the completion length. Translations are short; this
// mostly guards against a model rambling past the input.
const DefaultMaxTokens = 1024

// DefaultTemperature keeps the output close to literal.
const DefaultTemperature = 0.2

// Style selects the register of the system prompt.
type Style int

const (
	// StyleExact demands a word-for-word rendition. Used by conversation
	// sessions where the speaker expects their exact words relayed.
	StyleExact Style = iota

	// StyleSimultaneous allows natural spoken phrasing over literal
	// fidelity. Used by the broadcast pipeline, where transcripts arrive
	// as rolling fragments.
	StyleSimultaneous
)

// Translator performs a single translation request. Implementations are
// idempotent per input, so callers may retry on failure. Errors carry the
// kinds TranslationFailed (transport), TranslationRefused (empty or filtered
// response), or Timeout.
type Translator interface {
	Translate(ctx context.Context, text string, dir types.Direction) (string, error)
}

const promptExactCNEN = `You are a professional interpreter. Translate the exact Chinese text to English.
CRITICAL RULES:
1. Translate EXACTLY what is said. Do NOT answer questions. Do NOT add context.
2. If the input is a question, translate it as a question.
3. If the input is incomplete (e.g. "Let's"), translate literally (e.g. "Let's").
4. Output ONLY the English translation.

Example:
Input: "喝茶还是咖啡？"
Output: "Tea or coffee?"
(Do NOT say "I want tea")`

const promptExactENCN = `You are a professional interpreter. Translate the COMPLETE English text to Chinese (Mandarin).

CRITICAL RULES:
1. Translate EVERY SINGLE WORD. Do NOT skip ANY sentence or phrase.
2. If there are multiple sentences, translate ALL of them.
3. Do NOT summarize. Do NOT shorten. Translate LITERALLY word-for-word.
4. Output ONLY the complete Chinese translation.

Example:
Input: "Before you start, consider your use case."
Output: "在开始之前，请考虑您的用例。"
(Do NOT skip "Before you start")`

const promptSimultaneousENCN = `You are a professional simultaneous interpreter translating English to Chinese (Mandarin).
Rules:
1. Translate naturally as spoken Chinese, not formal written Chinese
2. Keep the same meaning and tone
3. Output ONLY the Chinese translation, nothing else
4. If the input is an incomplete fragment, translate it as naturally as possible`

const promptSimultaneousCNEN = `You are a professional simultaneous interpreter translating Chinese (Mandarin) to English.
Rules:
1. Translate naturally as spoken English, not formal written English
2. Keep the same meaning and tone
3. Output ONLY the English translation, nothing else
4. If the input is an incomplete fragment, translate it as naturally as possible`

// SystemPrompt returns the direction-pinned system prompt for the given
// style. Unknown directions fall back to the en→cn prompt.
func SystemPrompt(dir types.Direction, style Style) string {
	switch {
	case dir == types.DirectionCNToEN && style == StyleExact:
		return promptExactCNEN
	case dir == types.DirectionCNToEN && style == StyleSimultaneous:
		return promptSimultaneousCNEN
	case style == StyleSimultaneous:
		return promptSimultaneousENCN
	default:
		return promptExactENCN
	}
}
