// Package edge provides a TTS provider backed by the Microsoft Edge
// read-aloud websocket service. The service is keyless: one socket per
// request, a speech.config frame, one SSML frame, then binary audio frames
// until a turn.end message.
package edge

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelgate/pkg/provider/tts"
	"github.com/MrWong99/babelgate/pkg/types"
)

const (
	defaultEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"

	// trustedClientToken is the public token the Edge browser itself uses.
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	chromiumOrigin = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"

	defaultVoice  = "zh-CN-YunxiNeural"
	defaultFormat = "audio-24khz-48kbitrate-mono-mp3"

	// outputMIME is the container type of defaultFormat.
	outputMIME = "audio/mpeg"
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithEndpoint overrides the service URL. Used by tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements tts.Provider against the Edge read-aloud service.
type Provider struct {
	endpoint string
	timeout  time.Duration
}

// New constructs an Edge TTS provider. The service requires no credentials.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint: defaultEndpoint,
		timeout:  tts.DefaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Provider. It buffers the complete clip before
// returning; a socket that drops mid-stream is reported as SynthesisFailed,
// never as a short clip.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, types.Errf(types.KindConfig, "edge: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	connID := connectionID()
	url := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", p.endpoint, trustedClientToken, connID)

	header := http.Header{}
	header.Set("Origin", chromiumOrigin)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.WrapErr(types.KindTimeout, "edge: dial deadline exceeded", err)
		}
		return nil, types.WrapErr(types.KindSynthesisFailed, "edge: dial", err)
	}
	defer conn.Close(websocket.StatusInternalError, "abandoned")

	// Audio frames can arrive faster than the default limit allows.
	conn.SetReadLimit(1 << 20)

	if err := conn.Write(ctx, websocket.MessageText, speechConfig()); err != nil {
		return nil, types.WrapErr(types.KindSynthesisFailed, "edge: send speech.config", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, ssmlMessage(connID, voice, req)); err != nil {
		return nil, types.WrapErr(types.KindSynthesisFailed, "edge: send ssml", err)
	}

	var audio []byte
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.WrapErr(types.KindTimeout, "edge: synthesis deadline exceeded", ctx.Err())
			}
			return nil, types.WrapErr(types.KindSynthesisFailed, "edge: read", err)
		}

		switch typ {
		case websocket.MessageText:
			if headerValue(msg, "Path") == "turn.end" {
				conn.Close(websocket.StatusNormalClosure, "")
				if len(audio) == 0 {
					return nil, types.Errf(types.KindSynthesisEmpty, "edge: no audio for %q", req.Text)
				}
				return &tts.Result{Format: outputMIME, Data: audio}, nil
			}
			// turn.start and audio.metadata carry nothing we need.

		case websocket.MessageBinary:
			payload, err := audioPayload(msg)
			if err != nil {
				return nil, types.WrapErr(types.KindSynthesisFailed, "edge: bad binary frame", err)
			}
			audio = append(audio, payload...)
		}
	}
}

// String identifies the backend in logs.
func (p *Provider) String() string {
	return "edge(" + defaultFormat + ")"
}

var _ tts.Provider = (*Provider)(nil)

// ---- wire helpers ----

// speechConfig builds the one-time output-format configuration frame.
func speechConfig() []byte {
	body := `{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + defaultFormat + `"}}}}`
	var b strings.Builder
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// ssmlMessage builds the per-request SSML frame.
func ssmlMessage(requestID, voice string, req tts.Request) []byte {
	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("X-Timestamp:" + timestamp() + "\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(buildSSML(voice, req))
	return []byte(b.String())
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// buildSSML renders the speak document. Rate and pitch default to neutral
// when unset; the service rejects empty prosody attributes.
func buildSSML(voice string, req tts.Request) string {
	rate := req.Rate
	if rate == "" {
		rate = "+0%"
	}
	pitch := req.Pitch
	if pitch == "" {
		pitch = "+0Hz"
	}
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>`+
			`<voice name='%s'><prosody pitch='%s' rate='%s' volume='+0%%'>%s</prosody></voice></speak>`,
		voice, pitch, rate, xmlEscaper.Replace(req.Text))
}

// headerValue extracts a header from a text frame of "Key:Value\r\n" lines.
func headerValue(msg []byte, key string) string {
	head, _, _ := strings.Cut(string(msg), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		if k, v, ok := strings.Cut(line, ":"); ok && k == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// audioPayload strips the length-prefixed header from a binary frame and
// returns the audio bytes. Binary frames whose Path is not audio yield an
// empty payload.
func audioPayload(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("frame shorter than header length prefix")
	}
	headLen := int(binary.BigEndian.Uint16(frame[:2]))
	if 2+headLen > len(frame) {
		return nil, fmt.Errorf("header length %d exceeds frame size %d", headLen, len(frame))
	}
	head := frame[2 : 2+headLen]
	if headerValue(head, "Path") != "audio" {
		return nil, nil
	}
	return frame[2+headLen:], nil
}

// connectionID returns a 32-char lowercase hex id, the format the service
// expects for ConnectionId and X-RequestId.
func connectionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// timestamp renders the Javascript-style date string the service expects.
func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05") + " GMT+0000 (Coordinated Universal Time)"
}
