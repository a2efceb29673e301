package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelgate/internal/hub"
	"github.com/MrWong99/babelgate/internal/observe"
	"github.com/MrWong99/babelgate/internal/resilience"
	"github.com/MrWong99/babelgate/pkg/provider/stt"
	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/provider/tts"
	"github.com/MrWong99/babelgate/pkg/types"
)

// Translate-trigger word counts. Rolling finals are translated early when a
// sentence completes, later when the speaker pauses, and force-flushed when
// the buffer grows too long for a timely translation.
const (
	DefaultMinWordsSentence     = 10
	DefaultMinWordsPause        = 25
	DefaultForceWords           = 40
	DefaultMinWordsUtteranceEnd = 8
)

// BroadcastConfig wires the long-lived broadcast session.
type BroadcastConfig struct {
	STT        stt.Provider
	Translator translate.Translator
	TTS        tts.Provider
	Hub        *hub.Hub

	// Direction of the broadcast translation. Defaults to en->cn.
	Direction types.Direction

	// STTModel overrides the STT provider's default model.
	STTModel string

	// UtteranceEndMS is the silence gap for segmentation. Defaults to 1000.
	UtteranceEndMS int

	// EndpointingMS is passed through to the STT stream config.
	EndpointingMS int

	// Encoding and SampleRate describe the publisher's audio when it sends
	// raw PCM instead of a containerized stream.
	Encoding   string
	SampleRate int

	// Trigger thresholds; zero means default.
	MinWordsSentence     int
	MinWordsPause        int
	ForceWords           int
	MinWordsUtteranceEnd int

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (c *BroadcastConfig) applyDefaults() {
	if !c.Direction.IsValid() {
		c.Direction = types.DirectionENToCN
	}
	if c.UtteranceEndMS == 0 {
		c.UtteranceEndMS = 1000
	}
	if c.MinWordsSentence <= 0 {
		c.MinWordsSentence = DefaultMinWordsSentence
	}
	if c.MinWordsPause <= 0 {
		c.MinWordsPause = DefaultMinWordsPause
	}
	if c.ForceWords <= 0 {
		c.ForceWords = DefaultForceWords
	}
	if c.MinWordsUtteranceEnd <= 0 {
		c.MinWordsUtteranceEnd = DefaultMinWordsUtteranceEnd
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// segment is one translate-and-speak unit cut from the rolling transcript.
type segment struct {
	ordinal uint64
	text    string
}

// Broadcast drives one continuous STT stream, cuts the transcript into
// segments, and fans translated text plus synthesized audio out through the
// hub. The STT stream is re-established on fatal errors; the public ordinal
// sequence continues across reconnects.
type Broadcast struct {
	cfg BroadcastConfig

	audio    chan []byte
	stopCh   chan struct{}
	segments chan segment

	mu          sync.Mutex
	streamStart time.Time
	cancelSeg   context.CancelFunc
	ordinal     uint64

	backoff  resilience.Backoff
	failures resilience.FailureWindow
}

// NewBroadcast validates the config and builds the session.
func NewBroadcast(cfg BroadcastConfig) (*Broadcast, error) {
	if cfg.STT == nil || cfg.Translator == nil || cfg.TTS == nil || cfg.Hub == nil {
		return nil, types.Errf(types.KindConfig, "session: broadcast requires stt, translator, tts, and hub")
	}
	cfg.applyDefaults()
	return &Broadcast{
		cfg:      cfg,
		audio:    make(chan []byte, 256),
		stopCh:   make(chan struct{}, 1),
		segments: make(chan segment, 8),
	}, nil
}

// Run drives the session until ctx is cancelled or the STT upstream fails
// twice in short order.
func (b *Broadcast) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.sttLoop(ctx) })
	g.Go(func() error { return b.pipeline(ctx) })
	return g.Wait()
}

// SendAudio feeds one publisher frame into the session. Zero-length frames
// are dropped. When the queue is full the frame is discarded; live audio is
// worthless late.
func (b *Broadcast) SendAudio(frame []byte) {
	if len(frame) == 0 {
		return
	}
	select {
	case b.audio <- frame:
	default:
		b.cfg.Logger.Debug("publisher audio dropped, stt queue full")
	}
}

// Stop is the authoritative subscriber stop: it cancels in-flight
// translation and synthesis, discards queued segments, and flushes every
// subscriber queue.
func (b *Broadcast) Stop() {
	b.mu.Lock()
	if b.cancelSeg != nil {
		b.cancelSeg()
	}
	b.mu.Unlock()

	for {
		select {
		case <-b.segments:
			continue
		default:
		}
		break
	}

	select {
	case b.stopCh <- struct{}{}:
	default:
	}

	b.cfg.Hub.Flush()
	b.cfg.Hub.Publish(hub.Frame{Kind: hub.FrameText, Data: statusMessage("translation stopped")})
}

// Volume re-broadcasts a subscriber's volume change to everyone, including
// the host bridge that actually applies it.
func (b *Broadcast) Volume(value float64) {
	b.cfg.Hub.Publish(hub.Frame{Kind: hub.FrameText, Data: VolumeMessage(value)})
}

// AdjustedEnd converts a timestamp from the current STT stream into wall
// clock. Streams restart their clocks at zero on reconnect; the offset is
// the wall-clock start of the live stream.
func (b *Broadcast) AdjustedEnd(end time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamStart.Add(end)
}

// sttLoop owns the STT stream lifecycle: open, consume, reconnect with
// backoff on fatal errors.
func (b *Broadcast) sttLoop(ctx context.Context) error {
	for {
		stream, err := b.cfg.STT.Open(ctx, stt.StreamConfig{
			Model:          b.cfg.STTModel,
			Language:       b.cfg.Direction.SourceLanguage(),
			InterimResults: true,
			UtteranceEndMS: b.cfg.UtteranceEndMS,
			EndpointingMS:  b.cfg.EndpointingMS,
			VADEvents:      true,
			Encoding:       b.cfg.Encoding,
			SampleRate:     b.cfg.SampleRate,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.cfg.Logger.Error("stt open failed", "err", err)
			b.cfg.Metrics.RecordProviderError(ctx, "stt", types.KindOf(err).String())
			if b.failures.Record() {
				return types.WrapErr(types.KindUpstreamUnavailable, "broadcast: stt unavailable twice in short order", err)
			}
			if werr := b.backoff.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}

		b.mu.Lock()
		b.streamStart = time.Now()
		b.mu.Unlock()
		b.backoff.Reset()
		b.cfg.Logger.Info("stt stream established", "model", b.cfg.STTModel, "language", b.cfg.Direction.SourceLanguage())

		err = b.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.cfg.Logger.Error("stt stream died, reconnecting", "err", err)
		b.cfg.Metrics.STTReconnects.Add(ctx, 1)
		if b.failures.Record() {
			return types.WrapErr(types.KindUpstreamUnavailable, "broadcast: stt failed twice in short order", err)
		}
		if werr := b.backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// consume feeds audio into the stream and folds its events into segments
// until the stream dies. Returns the terminal stream error, or nil when the
// stream simply closed.
func (b *Broadcast) consume(ctx context.Context, stream stt.Stream) error {
	var finals []string

	wordCount := func() int {
		n := 0
		for _, f := range finals {
			n += len(strings.Fields(f))
		}
		return n
	}
	flush := func() {
		text := strings.TrimSpace(strings.Join(finals, " "))
		finals = nil
		if text == "" {
			return
		}
		seg := segment{ordinal: b.nextOrdinal(), text: text}
		select {
		case b.segments <- seg:
		default:
			b.cfg.Logger.Warn("segment queue full, discarding oldest")
			select {
			case <-b.segments:
			default:
			}
			select {
			case b.segments <- seg:
			default:
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.stopCh:
			finals = nil

		case frame := <-b.audio:
			if err := stream.Send(frame); err != nil {
				if err == stt.ErrBackpressured {
					continue
				}
				// ErrClosed: the read side will surface the terminal event.
				continue
			}

		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case types.EventFinal:
				if strings.TrimSpace(ev.Text) == "" {
					continue
				}
				finals = append(finals, strings.TrimSpace(ev.Text))
				words := wordCount()
				switch {
				case words >= b.cfg.ForceWords:
					flush()
				case ev.SpeechFinal && words >= b.cfg.MinWordsPause:
					flush()
				case endsSentence(ev.Text) && words >= b.cfg.MinWordsSentence:
					flush()
				}

			case types.EventUtteranceEnd:
				b.cfg.Logger.Debug("utterance gap",
					"last_word_end", b.AdjustedEnd(ev.End).Format(time.RFC3339Nano))
				if wordCount() >= b.cfg.MinWordsUtteranceEnd {
					flush()
				} else {
					// Too short to translate in isolation; drop the tail.
					finals = nil
				}

			case types.EventError:
				// Text committed before the failure still gets translated;
				// the reconnect continues from a fresh stream.
				flush()
				return ev.Err
			}
		}
	}
}

// pipeline consumes segments sequentially: one in-flight translation, one
// in-flight synthesis, publish order text then audio.
func (b *Broadcast) pipeline(ctx context.Context) error {
	for {
		var seg segment
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg = <-b.segments:
		}

		segCtx, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.cancelSeg = cancel
		b.mu.Unlock()

		b.processSegment(segCtx, seg)

		b.mu.Lock()
		b.cancelSeg = nil
		b.mu.Unlock()
		cancel()
	}
}

func (b *Broadcast) processSegment(ctx context.Context, seg segment) {
	ctx, span := observe.StartSpan(ctx, "broadcast.segment")
	defer span.End()
	log := b.cfg.Logger.With("ordinal", seg.ordinal)

	start := time.Now()
	translated, err := b.cfg.Translator.Translate(ctx, seg.text, b.cfg.Direction)
	b.cfg.Metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			log.Info("segment cancelled")
			return
		}
		log.Error("translation failed", "kind", types.KindOf(err).String(), "err", err)
		b.cfg.Metrics.RecordProviderError(ctx, "translate", types.KindOf(err).String())
		b.cfg.Metrics.RecordUtterance(ctx, "broadcast", "failed")
		return
	}

	start = time.Now()
	res, synthErr := b.cfg.TTS.Synthesize(ctx, tts.Request{
		Text:  translated,
		Voice: tts.VoiceFor(b.cfg.Direction),
	})
	b.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if ctx.Err() != nil {
		log.Info("segment cancelled")
		return
	}

	format := ""
	if synthErr == nil {
		format = res.Format
	}
	b.cfg.Hub.Publish(hub.Frame{Kind: hub.FrameText, Data: translationMessage(seg.text, translated, format)})

	if synthErr != nil {
		// Text still reaches the subscribers; only the audio is lost.
		log.Error("synthesis failed", "kind", types.KindOf(synthErr).String(), "err", synthErr)
		b.cfg.Metrics.RecordProviderError(ctx, "tts", types.KindOf(synthErr).String())
		b.cfg.Metrics.RecordUtterance(ctx, "broadcast", "text_only")
		return
	}

	b.cfg.Hub.Publish(hub.Frame{Kind: hub.FrameAudio, Data: res.Data})
	b.cfg.Metrics.RecordUtterance(ctx, "broadcast", "delivered")
	log.Info("segment delivered", "chars_in", len(seg.text), "chars_out", len(translated), "audio_bytes", len(res.Data))
}

func (b *Broadcast) nextOrdinal() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.ordinal
	b.ordinal++
	return n
}

// endsSentence reports whether the transcript segment closes a sentence in
// either script.
func endsSentence(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	for _, r := range []string{"。", "！", "？"} {
		if strings.HasSuffix(text, r) {
			return true
		}
	}
	return false
}
