// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelgate/pkg/provider/stt"
	"github.com/MrWong99/babelgate/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en-US"

	// keepaliveInterval is how long the write side may stay silent before a
	// KeepAlive control frame is emitted. Deepgram terminates a socket that
	// receives nothing for 10 seconds.
	keepaliveInterval = 3 * time.Second

	// closeGrace bounds how long Close waits for the service's final
	// Metadata event before tearing the socket down anyway.
	closeGrace = 3 * time.Second

	// defaultHighWater is the audio frame queue depth beyond which Send
	// reports backpressure.
	defaultHighWater = 256
)

// Control frames understood by the Deepgram streaming endpoint.
var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	finalizeMsg    = []byte(`{"type":"Finalize"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the default Deepgram model (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests to point
// the provider at a local fake server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithHighWater sets the audio queue depth beyond which Send reports
// backpressure. Default is 256 frames.
func WithHighWater(n int) Option {
	return func(p *Provider) { p.highWater = n }
}

// WithKeepaliveInterval overrides the silence threshold for KeepAlive
// control frames. Used by tests.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey    string
	model     string
	language  string
	endpoint  string
	highWater int
	keepalive time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, types.Errf(types.KindConfig, "deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		language:  defaultLanguage,
		endpoint:  deepgramEndpoint,
		highWater: defaultHighWater,
		keepalive: keepaliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open establishes a streaming transcription session with Deepgram.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, types.WrapErr(types.KindConfig, "deepgram: build URL", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, types.WrapErr(types.KindUpstreamUnavailable, "deepgram: dial", err)
	}

	s := &stream{
		conn:      conn,
		keepalive: p.keepalive,
		events:    make(chan types.TranscriptEvent, 64),
		audio:     make(chan []byte, p.highWater),
		ctrl:      make(chan []byte, 4),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
		metadata:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop(ctx)
	go s.readLoop(ctx)

	return s, nil
}

// validate rejects option combinations the service would refuse at the
// protocol level, so misconfiguration fails at session setup instead of as
// an opaque close frame mid-stream.
func validate(cfg stt.StreamConfig) error {
	if cfg.UtteranceEndMS != 0 && cfg.UtteranceEndMS < 1000 {
		return types.Errf(types.KindConfig, "deepgram: utterance_end_ms must be >= 1000, got %d", cfg.UtteranceEndMS)
	}
	if cfg.EndpointingMS < 0 {
		return types.Errf(types.KindConfig, "deepgram: endpointing must not be negative, got %d", cfg.EndpointingMS)
	}
	if cfg.Encoding != "" && cfg.SampleRate <= 0 {
		return types.Errf(types.KindConfig, "deepgram: encoding %q requires a sample rate", cfg.Encoding)
	}
	return nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	if cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
	}
	if cfg.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMS))
	}
	if cfg.VADEvents {
		q.Set("vad_events", "true")
	}
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- stream ----

// stream is a live Deepgram streaming session. It implements stt.Stream.
type stream struct {
	conn      *websocket.Conn
	keepalive time.Duration

	events chan types.TranscriptEvent
	audio  chan []byte
	ctrl   chan []byte

	done      chan struct{} // closed by Close; stops the write loop
	readDone  chan struct{} // closed when the read loop exits
	metadata  chan struct{} // closed when the service's Metadata event arrives
	closeOnce sync.Once
	metaOnce  sync.Once
	wg        sync.WaitGroup
}

// Send enqueues one audio frame. Zero-length frames are dropped: an empty
// binary message is Deepgram's legacy close signal.
func (s *stream) Send(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return stt.ErrClosed
	case <-s.readDone:
		return stt.ErrClosed
	default:
	}
	select {
	case s.audio <- frame:
		return nil
	case <-s.done:
		return stt.ErrClosed
	default:
		return stt.ErrBackpressured
	}
}

// Finalize asks the service to flush buffered audio. Results keep arriving
// on Events until the service has drained its pipeline.
func (s *stream) Finalize() error {
	select {
	case <-s.done:
		return stt.ErrClosed
	case <-s.readDone:
		return stt.ErrClosed
	case s.ctrl <- finalizeMsg:
		return nil
	}
}

// Events returns the transcript event sequence.
func (s *stream) Events() <-chan types.TranscriptEvent {
	return s.events
}

// Close sends CloseStream, waits for the service's final Metadata event (or
// the read loop exiting, or a grace timeout), then tears the socket down.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.ctrl <- closeStreamMsg:
		default:
		}
		close(s.done)

		grace := time.NewTimer(closeGrace)
		defer grace.Stop()
		select {
		case <-s.metadata:
		case <-s.readDone:
		case <-grace.C:
		}

		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		s.wg.Wait()
		<-s.readDone
	})
	return nil
}

// writeLoop serializes all socket writes: audio frames, control frames, and
// the silence keepalive.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	idle := time.NewTimer(s.keepalive)
	defer idle.Stop()

	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.keepalive)
	}

	for {
		select {
		case frame := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				return
			}
			resetIdle()
		case msg := <-s.ctrl:
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
			resetIdle()
		case <-idle.C:
			if err := s.conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				return
			}
			idle.Reset(s.keepalive)
		case <-s.done:
			// Flush any queued control frames so CloseStream reaches the
			// service before the socket goes away.
			for {
				select {
				case msg := <-s.ctrl:
					_ = s.conn.Write(ctx, websocket.MessageText, msg)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON events from Deepgram and dispatches them until the
// socket terminates. On a non-normal close it emits a terminal error event
// before closing the events channel.
func (s *stream) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Locally initiated close; not an error.
				return
			default:
			}
			if terminal := classifyClose(err); terminal != nil {
				s.emit(ctx, types.TranscriptEvent{Kind: types.EventError, Err: terminal})
			}
			return
		}

		ev, typ := parseEvent(msg)
		switch typ {
		case "Metadata":
			// The service's final event before a clean close; Close waits
			// for it. Not surfaced to the owner.
			s.metaOnce.Do(func() { close(s.metadata) })
		case "Results", "SpeechStarted", "UtteranceEnd":
			s.emit(ctx, ev)
		}
	}
}

func (s *stream) emit(ctx context.Context, ev types.TranscriptEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// classifyClose maps a socket read error to the local error taxonomy.
// Returns nil for a normal closure.
func classifyClose(err error) error {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return types.WrapErr(types.KindUpstreamUnavailable, "deepgram: socket read", err)
	}
	switch {
	case ce.Code == websocket.StatusNormalClosure:
		return nil
	case strings.Contains(ce.Reason, "NET-0000"):
		// Service-side silence timeout: neither audio nor keepalive arrived.
		return types.Errf(types.KindIdleTimeout, "deepgram: %s", ce.Reason)
	case strings.Contains(ce.Reason, "NET-0001"):
		return types.Errf(types.KindUpstreamProtocol, "deepgram: %s", ce.Reason)
	case ce.Code == websocket.StatusPolicyViolation || strings.Contains(ce.Reason, "DATA-0000"):
		return types.Errf(types.KindUpstreamProtocol, "deepgram: rejected audio payload: %s", ce.Reason)
	default:
		return types.Errf(types.KindUpstreamProtocol, "deepgram: close %d: %s", ce.Code, ce.Reason)
	}
}

// ---- event parsing ----

// response covers every JSON event shape the streaming endpoint sends. The
// Type field discriminates; unused fields stay at their zero values.
type response struct {
	Type         string  `json:"type"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	LastWordEnd  float64 `json:"last_word_end"`
	Timestamp    float64 `json:"timestamp"`
	ChannelIndex []int   `json:"channel_index"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseEvent parses a raw Deepgram message into a TranscriptEvent. The
// second return value is the upstream message type; it is empty for
// malformed or ignorable messages. Only "Results", "SpeechStarted", and
// "UtteranceEnd" carry a meaningful event; "Metadata" is a close handshake
// signal with no payload of interest.
func parseEvent(data []byte) (types.TranscriptEvent, string) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.TranscriptEvent{}, ""
	}

	switch resp.Type {
	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return types.TranscriptEvent{}, ""
		}
		alt := resp.Channel.Alternatives[0]

		kind := types.EventInterim
		if resp.IsFinal {
			kind = types.EventFinal
		}
		ev := types.TranscriptEvent{
			Kind:        kind,
			Text:        alt.Transcript,
			SpeechFinal: resp.SpeechFinal,
			Confidence:  alt.Confidence,
			End:         secs(resp.Start + resp.Duration),
		}
		if len(resp.ChannelIndex) > 0 {
			ev.Channel = resp.ChannelIndex[0]
		}
		for _, w := range alt.Words {
			ev.Words = append(ev.Words, types.WordDetail{
				Word:       w.Word,
				Start:      secs(w.Start),
				End:        secs(w.End),
				Confidence: w.Confidence,
			})
		}
		return ev, resp.Type

	case "SpeechStarted":
		return types.TranscriptEvent{
			Kind: types.EventSpeechStarted,
			End:  secs(resp.Timestamp),
		}, resp.Type

	case "UtteranceEnd":
		return types.TranscriptEvent{
			Kind: types.EventUtteranceEnd,
			End:  secs(resp.LastWordEnd),
		}, resp.Type

	case "Metadata":
		return types.TranscriptEvent{}, resp.Type

	default:
		return types.TranscriptEvent{}, ""
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

var _ stt.Provider = (*Provider)(nil)

// String describes the provider for startup logs.
func (p *Provider) String() string {
	return fmt.Sprintf("deepgram(model=%s, language=%s)", p.model, p.language)
}
