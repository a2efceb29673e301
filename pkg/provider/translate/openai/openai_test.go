package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/types"
)

// chatEndpoint fakes an OpenAI-compatible chat-completion endpoint and
// captures the last request body.
func chatEndpoint(t *testing.T, content string, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var lastReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&lastReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if status != http.StatusOK {
			http.Error(w, "upstream sad", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &lastReq
}

func TestTranslate(t *testing.T) {
	srv, lastReq := chatEndpoint(t, "  你好，世界。 ", http.StatusOK)

	tr, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := tr.Translate(context.Background(), "Hello, world.", types.DirectionENToCN)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "你好，世界。" {
		t.Errorf("translation = %q, want trimmed Chinese output", out)
	}

	req := *lastReq
	msgs, ok := req["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("request messages = %v, want system + user", req["messages"])
	}
	sys := msgs[0].(map[string]any)
	if sys["role"] != "system" {
		t.Errorf("first message role = %v, want system", sys["role"])
	}
	usr := msgs[1].(map[string]any)
	if usr["content"] != "Hello, world." {
		t.Errorf("user content = %v", usr["content"])
	}
	if req["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req["temperature"])
	}
}

func TestTranslate_SimultaneousRegister(t *testing.T) {
	srv, lastReq := chatEndpoint(t, "你好", http.StatusOK)

	tr, err := New("key", WithBaseURL(srv.URL), WithStyle(translate.StyleSimultaneous))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Translate(context.Background(), "hello there", types.DirectionENToCN); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	msgs := (*lastReq)["messages"].([]any)
	sys := msgs[0].(map[string]any)
	want := translate.SystemPrompt(types.DirectionENToCN, translate.StyleSimultaneous)
	if sys["content"] != want {
		t.Errorf("system prompt = %q, want the simultaneous register", sys["content"])
	}
}

func TestTranslate_EmptyResponse(t *testing.T) {
	srv, _ := chatEndpoint(t, "   ", http.StatusOK)

	tr, _ := New("key", WithBaseURL(srv.URL))
	_, err := tr.Translate(context.Background(), "hi", types.DirectionENToCN)
	if types.KindOf(err) != types.KindTranslationRefused {
		t.Fatalf("kind = %v (err=%v), want TranslationRefused", types.KindOf(err), err)
	}
}

func TestTranslate_TransportError(t *testing.T) {
	srv, _ := chatEndpoint(t, "", http.StatusInternalServerError)

	tr, _ := New("key", WithBaseURL(srv.URL))
	_, err := tr.Translate(context.Background(), "hi", types.DirectionENToCN)
	if types.KindOf(err) != types.KindTranslationFailed {
		t.Fatalf("kind = %v (err=%v), want TranslationFailed", types.KindOf(err), err)
	}
}

func TestTranslate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	tr, _ := New("key", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := tr.Translate(context.Background(), "hi", types.DirectionENToCN)
	if types.KindOf(err) != types.KindTimeout {
		t.Fatalf("kind = %v (err=%v), want Timeout", types.KindOf(err), err)
	}
}

func TestTranslate_InvalidDirection(t *testing.T) {
	tr, _ := New("key")
	_, err := tr.Translate(context.Background(), "hi", types.Direction("fr-de"))
	if types.KindOf(err) != types.KindConfig {
		t.Fatalf("kind = %v, want ConfigError", types.KindOf(err))
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); types.KindOf(err) != types.KindConfig {
		t.Fatal("expected ConfigError for empty API key")
	}
}
