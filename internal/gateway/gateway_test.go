package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelgate/internal/config"
	sttmock "github.com/MrWong99/babelgate/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/babelgate/pkg/provider/translate/mock"
	"github.com/MrWong99/babelgate/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelgate/pkg/provider/tts/mock"
	"github.com/MrWong99/babelgate/pkg/types"

	"net/http/httptest"
)

type rig struct {
	g   *Gateway
	srv *httptest.Server
	st  *sttmock.Stream
	stt *sttmock.Provider
	tr  *translatemock.Translator
	btr *translatemock.Translator
	tp  *ttsmock.Provider
}

func newRig(t *testing.T, mutate func(*config.Config)) *rig {
	t.Helper()
	cfg := config.Default()
	cfg.STT.APIKey = "dg-key"
	cfg.Translator.APIKey = "llm-key"
	cfg.Conversation.TrailingMS = 10
	if mutate != nil {
		mutate(cfg)
	}

	st := sttmock.NewStream()
	r := &rig{
		st:  st,
		stt: &sttmock.Provider{Stream: st},
		tr:  &translatemock.Translator{},
		btr: &translatemock.Translator{},
		tp:  &ttsmock.Provider{},
	}
	g, err := New(cfg, Providers{STT: r.stt, Translator: r.tr, BroadcastTranslator: r.btr, TTS: r.tp})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.g = g
	r.srv = httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		g.Close()
		r.srv.Close()
	})
	return r
}

func (r *rig) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn, d time.Duration) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

func writeJSON(t *testing.T, c *websocket.Conn, v string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(v)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConversation_EndToEnd(t *testing.T) {
	r := newRig(t, nil)
	r.st.OnFinalize = func() {
		r.st.Emit(types.TranscriptEvent{Kind: types.EventFinal, Text: "你好"})
	}
	r.tr.Result = "Hello"
	r.tp.Result = &tts.Result{Format: "audio/mpeg", Data: []byte{0xff, 0xf3}}

	c := dial(t, r.wsURL("/ws/conversation?mode=cn-en"))

	ctx := context.Background()
	if err := c.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	writeJSON(t, c, `{"type":"stop"}`)

	sawTranslation := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rctx, cancel := context.WithDeadline(ctx, deadline)
		typ, data, err := c.Read(rctx)
		cancel()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.MessageBinary {
			if !sawTranslation {
				t.Fatal("binary audio arrived before the translation text")
			}
			if string(data) != string([]byte{0xff, 0xf3}) {
				t.Errorf("audio = %v", data)
			}
			return
		}
		var m map[string]any
		json.Unmarshal(data, &m)
		if m["type"] == "translation" {
			sawTranslation = true
			if m["original"] != "你好" || m["translation"] != "Hello" {
				t.Errorf("translation = %v", m)
			}
		}
	}
	t.Fatal("no audio delivered")
}

func TestConversation_InvalidMode(t *testing.T) {
	r := newRig(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, r.wsURL("/ws/conversation?mode=de-fr"), nil)
	if err == nil {
		t.Fatal("dial must fail for an invalid mode")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConversation_SessionCap(t *testing.T) {
	r := newRig(t, func(cfg *config.Config) { cfg.Conversation.MaxSessions = 1 })

	dial(t, r.wsURL("/ws/conversation?mode=cn-en"))
	// Give the handler a moment to count the first session.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, r.wsURL("/ws/conversation?mode=cn-en"), nil)
	if err == nil {
		t.Fatal("second session must be rejected at the cap")
	}
	if resp != nil && resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestBrowser_PingPong(t *testing.T) {
	r := newRig(t, nil)
	c := dial(t, r.wsURL("/ws/browser"))

	writeJSON(t, c, `{"type":"ping"}`)
	m := readJSON(t, c, 2*time.Second)
	if m["type"] != "pong" {
		t.Errorf("reply = %v, want pong", m)
	}
}

func TestBrowser_VolumeFansOutWithoutPublisher(t *testing.T) {
	r := newRig(t, nil)
	a := dial(t, r.wsURL("/ws/browser"))
	b := dial(t, r.wsURL("/ws/browser"))

	writeJSON(t, a, `{"type":"volume","value":0.4}`)
	m := readJSON(t, b, 2*time.Second)
	if m["type"] != "volume" || m["value"] != 0.4 {
		t.Errorf("frame = %v", m)
	}
}

func TestBrowser_LivenessTimeout(t *testing.T) {
	r := newRig(t, nil)
	r.g.pingInterval = 30 * time.Millisecond

	c := dial(t, r.wsURL("/ws/browser"))

	// Never ping; the server must drop us after two missed intervals.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected the server to close a silent subscriber")
	}
}

func TestPublisher_SingleSlot(t *testing.T) {
	r := newRig(t, nil)
	dial(t, r.wsURL("/ws/publisher"))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, r.wsURL("/ws/publisher"), nil)
	if err == nil {
		t.Fatal("second publisher must be rejected")
	}
	if resp != nil && resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPublisher_BroadcastFlow(t *testing.T) {
	r := newRig(t, nil)
	r.tp.Result = &tts.Result{Format: "audio/mpeg", Data: []byte{9, 9}}

	sub := dial(t, r.wsURL("/ws/browser"))
	pub := dial(t, r.wsURL("/ws/publisher?encoding=linear16&sample_rate=16000"))

	// The broadcast session opens its STT stream on publisher connect.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(r.stt.Calls()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	calls := r.stt.Calls()
	if len(calls) == 0 {
		t.Fatal("stt stream never opened")
	}
	if calls[0].Cfg.Encoding != "linear16" || calls[0].Cfg.SampleRate != 16000 {
		t.Errorf("negotiated stream config = %+v", calls[0].Cfg)
	}

	ctx := context.Background()
	if err := pub.Write(ctx, websocket.MessageBinary, []byte{7, 7, 7}); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(r.st.SentFrames()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(r.st.SentFrames()) == 0 {
		t.Fatal("publisher audio never reached the stt stream")
	}

	r.st.Emit(types.TranscriptEvent{
		Kind: types.EventFinal,
		Text: "the quick brown fox jumps over the lazy dog again tonight.",
	})

	m := readJSON(t, sub, 5*time.Second)
	if m["type"] != "translation" {
		t.Fatalf("first frame = %v, want translation", m)
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	typ, data, err := sub.Read(rctx)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if typ != websocket.MessageBinary || string(data) != string([]byte{9, 9}) {
		t.Errorf("audio frame = %v %v", typ, data)
	}
}

func TestPublisher_BroadcastUsesItsOwnTranslator(t *testing.T) {
	r := newRig(t, nil)
	r.tp.Result = &tts.Result{Format: "audio/mpeg", Data: []byte{9}}

	sub := dial(t, r.wsURL("/ws/browser"))
	dial(t, r.wsURL("/ws/publisher"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(r.stt.Calls()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(r.stt.Calls()) == 0 {
		t.Fatal("stt stream never opened")
	}

	r.st.Emit(types.TranscriptEvent{
		Kind: types.EventFinal,
		Text: "the quick brown fox jumps over the lazy dog again tonight.",
	})
	if m := readJSON(t, sub, 5*time.Second); m["type"] != "translation" {
		t.Fatalf("first frame = %v, want translation", m)
	}

	// Broadcast segments go through the simultaneous-register translator,
	// never the conversation one.
	if calls := r.btr.Calls(); len(calls) != 1 {
		t.Errorf("broadcast translator calls = %+v, want 1", calls)
	}
	if calls := r.tr.Calls(); len(calls) != 0 {
		t.Errorf("conversation translator must stay idle, got %+v", calls)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r := newRig(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(r.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Providers{})
	if types.KindOf(err) != types.KindConfig {
		t.Errorf("err = %v, want ConfigError", err)
	}
}
