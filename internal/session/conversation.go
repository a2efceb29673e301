package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelgate/internal/observe"
	"github.com/MrWong99/babelgate/internal/resilience"
	"github.com/MrWong99/babelgate/pkg/provider/stt"
	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/provider/tts"
	"github.com/MrWong99/babelgate/pkg/types"
)

// Defaults for the conversation timing contracts.
const (
	DefaultTrailingWindow = 700 * time.Millisecond
	DefaultWriteBudget    = 2 * time.Second
	DefaultHardCeiling    = 15 * time.Second
	DefaultMaxUtterance   = 30 * time.Second

	// finalDrainGrace bounds how long Finalizing waits for the flushed
	// final transcript after the Finalize control frame.
	finalDrainGrace = 1500 * time.Millisecond
)

// errClientGone ends a session cleanly when the browser closes its socket.
var errClientGone = errors.New("session: client disconnected")

// Conn is the subset of the client websocket the session drives. Satisfied
// by *websocket.Conn.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ConversationConfig wires one push-to-talk session.
type ConversationConfig struct {
	Direction  types.Direction
	STT        stt.Provider
	Translator translate.Translator
	TTS        tts.Provider

	// STTModel overrides the STT provider's default model.
	STTModel string

	// EndpointingMS is passed through to the STT stream config.
	EndpointingMS int

	// TrailingWindow is how long audio keeps flowing to STT after the stop
	// signal, so the tail of the utterance is not cut off.
	TrailingWindow time.Duration

	// WriteBudget is the per-frame client write deadline; exceeding it is
	// ClientSlow and session-fatal.
	WriteBudget time.Duration

	// HardCeiling bounds processing from stop signal to delivered audio.
	HardCeiling time.Duration

	// MaxUtterance bounds recording length for one push.
	MaxUtterance time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (c *ConversationConfig) applyDefaults() {
	if c.TrailingWindow <= 0 {
		c.TrailingWindow = DefaultTrailingWindow
	}
	if c.WriteBudget <= 0 {
		c.WriteBudget = DefaultWriteBudget
	}
	if c.HardCeiling <= 0 {
		c.HardCeiling = DefaultHardCeiling
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// outFrame is one unit of client egress. Text and binary frames share a
// single queue so the translation -> audio ordering holds on the socket.
type outFrame struct {
	typ  websocket.MessageType
	data []byte
}

// Conversation runs one per-speaker push-to-talk session.
type Conversation struct {
	cfg  ConversationConfig
	conn Conn

	audio chan []byte
	stops chan struct{}
	out   chan outFrame

	ordinal     uint64
	sttFailures resilience.FailureWindow
}

// NewConversation validates the config and builds a session around the
// client connection.
func NewConversation(conn Conn, cfg ConversationConfig) (*Conversation, error) {
	if !cfg.Direction.IsValid() {
		return nil, types.Errf(types.KindConfig, "session: invalid direction %q", cfg.Direction)
	}
	if conn == nil || cfg.STT == nil || cfg.Translator == nil || cfg.TTS == nil {
		return nil, types.Errf(types.KindConfig, "session: conn and all providers are required")
	}
	cfg.applyDefaults()
	return &Conversation{
		cfg:   cfg,
		conn:  conn,
		audio: make(chan []byte, 64),
		stops: make(chan struct{}, 1),
		out:   make(chan outFrame, 32),
	}, nil
}

// Run drives the session until the client disconnects or a fatal error
// occurs. A clean client disconnect returns nil.
func (c *Conversation) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.ingress(ctx) })
	g.Go(func() error { return c.egress(ctx) })
	g.Go(func() error { return c.stateMachine(ctx) })

	err := g.Wait()
	if errors.Is(err, errClientGone) {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}
	if err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, types.KindOf(err).String())
		return err
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// ingress reads the client socket and routes frames to the state machine.
func (c *Conversation) ingress(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errClientGone
		}

		switch typ {
		case websocket.MessageBinary:
			if len(data) == 0 {
				continue // never forwarded to STT
			}
			select {
			case c.audio <- data:
			default:
				// The pipeline is busy past the buffer. Dropping keeps
				// the reader draining so stops and disconnects are
				// still seen promptly.
				c.cfg.Metrics.DroppedFrames.Add(ctx, 1)
			}

		case websocket.MessageText:
			msg, err := ParseClientMessage(data)
			if err != nil {
				c.cfg.Logger.Warn("ignoring malformed client message", "err", err)
				continue
			}
			switch msg.Type {
			case MsgStop:
				select {
				case c.stops <- struct{}{}:
				default: // a stop is already pending; duplicates are ignored
				}
			case MsgPing:
				c.send(ctx, outFrame{typ: websocket.MessageText, data: PongMessage()})
			}
		}
	}
}

// egress serializes all client writes. Each frame gets WriteBudget; a client
// that cannot drain within that budget is ClientSlow and the session dies.
func (c *Conversation) egress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteBudget)
			err := c.conn.Write(wctx, f.typ, f.data)
			cancel()
			if err != nil {
				if wctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					// Best effort: tell the client why before closing.
					nctx, ncancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
					_ = c.conn.Write(nctx, websocket.MessageText, errorMessage(types.KindClientSlow.String()))
					ncancel()
					return types.Errf(types.KindClientSlow, "session: client write exceeded %s", c.cfg.WriteBudget)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errClientGone
			}
		}
	}
}

func (c *Conversation) send(ctx context.Context, f outFrame) {
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

// stateMachine is the session's main task: Idle until audio or stop arrives,
// then one utterance pipeline per push.
func (c *Conversation) stateMachine(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case first := <-c.audio:
			if err := c.runUtterance(ctx, first); err != nil {
				return err
			}
			c.drainStop()

		case <-c.stops:
			// Stop with no audio at all: no transcript can exist.
			c.send(ctx, outFrame{typ: websocket.MessageText, data: errorMessage(types.KindTranslationRefused.String())})
			c.cfg.Metrics.RecordUtterance(ctx, "conversation", "refused")
		}
	}
}

// drainStop clears a stop that arrived while an utterance was already past
// Finalizing, plus any stale audio between pushes.
func (c *Conversation) drainStop() {
	select {
	case <-c.stops:
	default:
	}
	for {
		select {
		case <-c.audio:
		default:
			return
		}
	}
}

// runUtterance drives one push through Recording, Finalizing, Translating,
// and Synthesizing. Per-utterance failures send an error message and return
// nil; only session-fatal conditions return an error.
func (c *Conversation) runUtterance(ctx context.Context, first []byte) error {
	ctx, span := observe.StartSpan(ctx, "conversation.utterance")
	defer span.End()
	log := c.cfg.Logger.With("ordinal", c.ordinal, "direction", string(c.cfg.Direction))
	if id := observe.CorrelationID(ctx); id != "" {
		log = log.With("trace_id", id)
	}

	stream, err := c.cfg.STT.Open(ctx, stt.StreamConfig{
		Model:          c.cfg.STTModel,
		Language:       c.cfg.Direction.SourceLanguage(),
		InterimResults: true,
		EndpointingMS:  c.cfg.EndpointingMS,
	})
	if err != nil {
		log.Error("stt open failed", "err", err)
		c.send(ctx, outFrame{typ: websocket.MessageText, data: errorMessage(types.KindUpstreamUnavailable.String())})
		c.cfg.Metrics.RecordProviderError(ctx, "stt", types.KindOf(err).String())
		if c.sttFailures.Record() {
			return types.WrapErr(types.KindUpstreamUnavailable, "session: stt unavailable twice in short order", err)
		}
		c.discardUntilStop(ctx)
		return nil
	}
	c.sttFailures.Reset()

	utt := NewUtterance(c.ordinal)
	if err := stream.Send(first); err != nil && !errors.Is(err, stt.ErrBackpressured) {
		log.Warn("stt send failed on first frame", "err", err)
	}

	stopAt, aborted, err := c.record(ctx, stream, utt, log)
	if err != nil || aborted {
		stream.Close()
		return err
	}

	// Processing budget runs from the stop signal.
	ceil, cancel := context.WithDeadline(ctx, stopAt.Add(c.cfg.HardCeiling))
	defer cancel()

	c.finalize(ceil, stream, utt)
	stream.Close()
	c.drainEvents(stream, utt)

	text := utt.FinalText()
	if text == "" {
		log.Info("no committed transcript for utterance")
		c.send(ctx, outFrame{typ: websocket.MessageText, data: errorMessage(types.KindTranslationRefused.String())})
		c.cfg.Metrics.RecordUtterance(ctx, "conversation", "refused")
		return nil
	}
	utt.Advance(StateFinalized)
	c.ordinal++

	// Translating.
	utt.Advance(StateTranslating)
	start := time.Now()
	translated, err := c.cfg.Translator.Translate(ceil, text, c.cfg.Direction)
	c.cfg.Metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return c.failUtterance(ctx, utt, ceil, err, "translate", log)
	}
	log.Info("utterance translated", "chars_in", len(text), "chars_out", len(translated))

	c.send(ctx, outFrame{typ: websocket.MessageText, data: translationMessage(text, translated, "")})

	// Synthesizing.
	utt.Advance(StateSynthesizing)
	start = time.Now()
	res, err := c.cfg.TTS.Synthesize(ceil, tts.Request{Text: translated, Voice: tts.VoiceFor(c.cfg.Direction)})
	c.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return c.failUtterance(ctx, utt, ceil, err, "tts", log)
	}

	c.send(ctx, outFrame{typ: websocket.MessageBinary, data: res.Data})
	utt.Advance(StateDelivered)
	c.cfg.Metrics.UtteranceDuration.Record(ctx, time.Since(stopAt).Seconds())
	c.cfg.Metrics.RecordUtterance(ctx, "conversation", "delivered")
	return nil
}

// record forwards audio to STT until the stop signal, then keeps forwarding
// through the trailing window. Returns the stop time. aborted is set when
// the utterance ended early and the pipeline must not run.
func (c *Conversation) record(ctx context.Context, stream stt.Stream, utt *Utterance, log *slog.Logger) (stopAt time.Time, aborted bool, err error) {
	capTimer := time.NewTimer(c.cfg.MaxUtterance)
	defer capTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return time.Time{}, true, ctx.Err()

		case <-capTimer.C:
			log.Warn("utterance exceeded recording cap")
			utt.Fail()
			stream.Close()
			c.send(ctx, outFrame{typ: websocket.MessageText, data: errorMessage(types.KindTimeout.String())})
			c.cfg.Metrics.RecordUtterance(ctx, "conversation", "timeout")
			c.discardUntilStop(ctx)
			return time.Time{}, true, nil

		case frame := <-c.audio:
			if serr := stream.Send(frame); serr != nil {
				if errors.Is(serr, stt.ErrBackpressured) {
					continue // drop the frame, keep the session
				}
				log.Warn("stt send failed", "err", serr)
			}

		case ev := <-stream.Events():
			c.handleEvent(ctx, ev, utt)

		case <-c.stops:
			stopAt = time.Now()
			c.trailingWindow(ctx, stream, utt)
			return stopAt, false, nil
		}
	}
}

// trailingWindow keeps late audio flowing to STT after the stop signal.
func (c *Conversation) trailingWindow(ctx context.Context, stream stt.Stream, utt *Utterance) {
	t := time.NewTimer(c.cfg.TrailingWindow)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.audio:
			_ = stream.Send(frame)
		case ev := <-stream.Events():
			c.handleEvent(ctx, ev, utt)
		case <-t.C:
			return
		}
	}
}

// finalize requests the STT flush and drains events until the flushed final
// arrives or the grace period passes.
func (c *Conversation) finalize(ctx context.Context, stream stt.Stream, utt *Utterance) {
	utt.Advance(StateFinalizing)
	if err := stream.Finalize(); err != nil {
		return
	}

	grace := time.NewTimer(finalDrainGrace)
	defer grace.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-grace.C:
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			c.handleEvent(ctx, ev, utt)
			if ev.Kind == types.EventFinal {
				return
			}
		}
	}
}

// drainEvents consumes whatever the closed stream still delivers so no
// committed transcript is lost.
func (c *Conversation) drainEvents(stream stt.Stream, utt *Utterance) {
	for ev := range stream.Events() {
		if ev.Kind == types.EventFinal {
			utt.AddFinal(ev.Text)
		}
	}
}

// handleEvent folds one STT event into the utterance and forwards interim
// text to the client.
func (c *Conversation) handleEvent(ctx context.Context, ev types.TranscriptEvent, utt *Utterance) {
	switch ev.Kind {
	case types.EventInterim:
		if ev.Text == "" {
			return
		}
		utt.SetInterim(ev.Text)
		c.send(ctx, outFrame{typ: websocket.MessageText, data: transcriptionUpdate(ev.Text)})
	case types.EventFinal:
		utt.AddFinal(ev.Text)
		c.send(ctx, outFrame{typ: websocket.MessageText, data: transcriptionUpdate(utt.FinalText())})
	case types.EventError:
		c.cfg.Logger.Warn("stt stream error", "err", ev.Err)
	}
}

// failUtterance reports a per-stage failure to the client. It returns nil so
// the session survives; only a dead group context propagates.
func (c *Conversation) failUtterance(ctx context.Context, utt *Utterance, ceil context.Context, err error, stage string, log *slog.Logger) error {
	utt.Fail()
	kind := types.KindOf(err)
	if ceil.Err() == context.DeadlineExceeded {
		kind = types.KindTimeout
	}
	log.Error("utterance failed", "stage", stage, "kind", kind.String(), "err", err)
	c.cfg.Metrics.RecordProviderError(ctx, stage, kind.String())
	c.cfg.Metrics.RecordUtterance(ctx, "conversation", "failed")
	c.send(ctx, outFrame{typ: websocket.MessageText, data: errorMessage(kind.String())})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// discardUntilStop swallows audio frames after an aborted utterance so the
// next push starts clean.
func (c *Conversation) discardUntilStop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.audio:
		case <-c.stops:
			return
		}
	}
}
