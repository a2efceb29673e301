// Package gateway terminates the client websocket surface of the
// translation service: broadcast subscribers, the host audio publisher, and
// per-speaker conversation sessions. The gateway owns the fan-out hub
// singleton and the lifecycle of the broadcast session; everything after the
// upgrade is delegated to internal/session.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/babelgate/internal/config"
	"github.com/MrWong99/babelgate/internal/health"
	"github.com/MrWong99/babelgate/internal/hub"
	"github.com/MrWong99/babelgate/internal/observe"
	"github.com/MrWong99/babelgate/internal/session"
	"github.com/MrWong99/babelgate/pkg/provider/stt"
	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/provider/tts"
	"github.com/MrWong99/babelgate/pkg/types"
)

// Providers holds the upstream clients shared by every session.
type Providers struct {
	STT        stt.Provider
	Translator translate.Translator
	TTS        tts.Provider

	// BroadcastTranslator serves the broadcast pipeline, whose rolling
	// transcript fragments want the simultaneous-interpreter register
	// rather than the word-for-word one. Falls back to Translator when
	// unset.
	BroadcastTranslator translate.Translator
}

// Gateway owns the hub and routes websocket upgrades to sessions.
type Gateway struct {
	cfg       *config.Config
	providers Providers
	logger    *slog.Logger
	metrics   *observe.Metrics
	hub       *hub.Hub

	// subscriber liveness knobs; fixed except in tests
	pingInterval time.Duration
	missedPings  int

	mu            sync.Mutex
	sessions      int
	subscribers   int
	bcast         *session.Broadcast
	lifecycleCtx  context.Context
	lifecycleStop context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to the global instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New builds a Gateway from validated configuration and provider clients.
func New(cfg *config.Config, providers Providers, opts ...Option) (*Gateway, error) {
	if cfg == nil || providers.STT == nil || providers.Translator == nil || providers.TTS == nil {
		return nil, types.Errf(types.KindConfig, "gateway: config and all providers are required")
	}
	if providers.BroadcastTranslator == nil {
		providers.BroadcastTranslator = providers.Translator
	}

	policy := hub.DropOldest
	if cfg.Hub.OverflowPolicy == config.OverflowDisconnect {
		policy = hub.Disconnect
	}
	g := &Gateway{
		cfg:          cfg,
		providers:    providers,
		logger:       slog.Default(),
		metrics:      observe.DefaultMetrics(),
		hub:          hub.New(hub.WithQueueDepth(cfg.Hub.QueueDepth), hub.WithPolicy(policy)),
		pingInterval: 30 * time.Second,
		missedPings:  2,
	}
	for _, o := range opts {
		o(g)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.lifecycleCtx = ctx
	g.lifecycleStop = cancel
	return g, nil
}

// Hub exposes the fan-out hub, mainly for tests and health checks.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// Close tears down the broadcast session and stops accepting new work.
func (g *Gateway) Close() {
	g.lifecycleStop()
}

// Handler returns the gateway's HTTP surface: the three websocket paths,
// the health probes, and the Prometheus scrape endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/browser", g.handleBrowser)
	mux.HandleFunc("GET /ws/publisher", g.handlePublisher)
	mux.HandleFunc("GET /ws/conversation", g.handleConversation)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		health.CheckerFunc("stt", func(context.Context) error {
			if g.providers.STT == nil {
				return types.Errf(types.KindConfig, "stt provider missing")
			}
			return nil
		}),
		health.CheckerFunc("translator", func(context.Context) error {
			if g.providers.Translator == nil {
				return types.Errf(types.KindConfig, "translator missing")
			}
			return nil
		}),
		health.CheckerFunc("hub", func(context.Context) error {
			if g.hub.Len() >= g.cfg.Hub.MaxSubscribers {
				return types.Errf(types.KindClientSlow, "subscriber capacity exhausted")
			}
			return nil
		}),
	).Register(mux)

	return observe.Middleware(g.metrics)(mux)
}

var acceptOptions = &websocket.AcceptOptions{OriginPatterns: []string{"*"}}

// handleConversation upgrades a push-to-talk session. The mode query
// parameter selects the translation direction.
func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request) {
	dir := types.Direction(r.URL.Query().Get("mode"))
	if !dir.IsValid() {
		http.Error(w, "mode must be cn-en or en-cn", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	if g.sessions >= g.cfg.Conversation.MaxSessions {
		g.mu.Unlock()
		http.Error(w, "session capacity exhausted", http.StatusServiceUnavailable)
		return
	}
	g.sessions++
	g.mu.Unlock()
	g.metrics.ActiveSessions.Add(r.Context(), 1)
	defer func() {
		g.mu.Lock()
		g.sessions--
		g.mu.Unlock()
		g.metrics.ActiveSessions.Add(context.Background(), -1)
	}()

	c, err := websocket.Accept(w, r, acceptOptions)
	if err != nil {
		g.logger.Warn("conversation upgrade failed", "err", err)
		return
	}

	conv, err := session.NewConversation(c, session.ConversationConfig{
		Direction:      dir,
		STT:            g.providers.STT,
		Translator:     g.providers.Translator,
		TTS:            g.providers.TTS,
		STTModel:       g.cfg.STT.Model,
		EndpointingMS:  g.cfg.STT.EndpointingMS,
		TrailingWindow: time.Duration(g.cfg.Conversation.TrailingMS) * time.Millisecond,
		HardCeiling:    time.Duration(g.cfg.Conversation.HardCeilingMS) * time.Millisecond,
		MaxUtterance:   time.Duration(g.cfg.Conversation.MaxUtteranceMS) * time.Millisecond,
		Logger:         g.logger.With("session", "conversation", "mode", string(dir)),
		Metrics:        g.metrics,
	})
	if err != nil {
		g.logger.Error("conversation setup failed", "err", err)
		c.Close(websocket.StatusInternalError, types.KindOf(err).String())
		return
	}

	if err := conv.Run(r.Context()); err != nil {
		g.logger.Warn("conversation ended", "mode", string(dir), "err", err)
		return
	}
	g.logger.Info("conversation closed", "mode", string(dir))
}

// handlePublisher upgrades the host audio bridge. The single publisher slot
// guards the broadcast session; a second bridge is turned away before the
// upgrade. Raw PCM is negotiated with encoding and sample_rate query
// parameters; absent those, frames are treated as a containerized stream.
func (g *Gateway) handlePublisher(w http.ResponseWriter, r *http.Request) {
	if err := g.hub.AcquirePublisher(); err != nil {
		http.Error(w, "publisher already active", http.StatusConflict)
		return
	}
	defer g.hub.ReleasePublisher()

	encoding := r.URL.Query().Get("encoding")
	sampleRate, _ := strconv.Atoi(r.URL.Query().Get("sample_rate"))

	c, err := websocket.Accept(w, r, acceptOptions)
	if err != nil {
		g.logger.Warn("publisher upgrade failed", "err", err)
		return
	}

	b, err := session.NewBroadcast(session.BroadcastConfig{
		STT:                  g.providers.STT,
		Translator:           g.providers.BroadcastTranslator,
		TTS:                  g.providers.TTS,
		Hub:                  g.hub,
		Direction:            types.Direction(g.cfg.Broadcast.Direction),
		STTModel:             g.cfg.STT.Model,
		UtteranceEndMS:       g.cfg.STT.UtteranceEndMS,
		EndpointingMS:        g.cfg.STT.EndpointingMS,
		Encoding:             encoding,
		SampleRate:           sampleRate,
		MinWordsSentence:     g.cfg.Broadcast.MinWordsSentence,
		MinWordsPause:        g.cfg.Broadcast.MinWordsPause,
		ForceWords:           g.cfg.Broadcast.ForceWords,
		MinWordsUtteranceEnd: g.cfg.Broadcast.MinWordsUtteranceEnd,
		Logger:               g.logger.With("session", "broadcast"),
		Metrics:              g.metrics,
	})
	if err != nil {
		g.logger.Error("broadcast setup failed", "err", err)
		c.Close(websocket.StatusInternalError, types.KindOf(err).String())
		return
	}

	bctx, cancel := context.WithCancel(g.lifecycleCtx)
	defer cancel()
	g.mu.Lock()
	g.bcast = b
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.bcast = nil
		g.mu.Unlock()
	}()

	bcastErr := make(chan error, 1)
	go func() { bcastErr <- b.Run(bctx) }()

	g.logger.Info("publisher connected", "encoding", encoding, "sample_rate", sampleRate)
	readErr := make(chan error, 1)
	go func() {
		for {
			typ, data, err := c.Read(bctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ == websocket.MessageBinary {
				b.SendAudio(data)
			}
			// The bridge sends no control messages; text frames are ignored.
		}
	}()

	select {
	case err := <-readErr:
		g.logger.Info("publisher disconnected", "err", err)
		c.Close(websocket.StatusNormalClosure, "")
	case err := <-bcastErr:
		g.logger.Error("broadcast session died", "err", err)
		c.Close(websocket.StatusPolicyViolation, types.KindOf(err).String())
	case <-bctx.Done():
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// handleBrowser upgrades a broadcast subscriber and drains its hub queue to
// the socket. Subscriber pings are the sole liveness signal; missing two in
// a row closes the socket.
func (g *Gateway) handleBrowser(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.subscribers >= g.cfg.Hub.MaxSubscribers {
		g.mu.Unlock()
		http.Error(w, "subscriber capacity exhausted", http.StatusServiceUnavailable)
		return
	}
	g.subscribers++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.subscribers--
		g.mu.Unlock()
	}()

	c, err := websocket.Accept(w, r, acceptOptions)
	if err != nil {
		g.logger.Warn("subscriber upgrade failed", "err", err)
		return
	}

	sub := g.hub.Subscribe()
	g.metrics.ActiveSubscribers.Add(r.Context(), 1)
	defer func() {
		g.hub.Unsubscribe(sub)
		g.metrics.ActiveSubscribers.Add(context.Background(), -1)
		g.metrics.DroppedFrames.Add(context.Background(), int64(sub.Dropped()))
	}()

	err = g.serveSubscriber(r.Context(), c, sub)
	if err != nil {
		g.logger.Info("subscriber closed", "err", err)
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// serveSubscriber pumps hub frames and pong replies to the socket while
// tracking client liveness.
func (g *Gateway) serveSubscriber(ctx context.Context, c *websocket.Conn, sub *hub.Subscriber) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongs := make(chan struct{}, 4)
	seen := make(chan struct{}, 1)
	readErr := make(chan error, 1)

	go func() {
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			select {
			case seen <- struct{}{}:
			default:
			}
			msg, err := session.ParseClientMessage(data)
			if err != nil {
				g.logger.Warn("ignoring malformed subscriber message", "err", err)
				continue
			}
			switch msg.Type {
			case session.MsgPing:
				select {
				case pongs <- struct{}{}:
				default:
				}
			case session.MsgVolume:
				g.volume(msg.Value)
			case session.MsgStop:
				g.stop()
			}
		}
	}()

	liveness := time.NewTicker(g.pingInterval)
	defer liveness.Stop()
	missed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-sub.Done():
			return types.Errf(types.KindClientSlow, "gateway: subscriber evicted by overflow policy")
		case <-seen:
			missed = 0
		case <-liveness.C:
			missed++
			if missed >= g.missedPings {
				return types.Errf(types.KindTimeout, "gateway: subscriber missed %d pings", missed)
			}
		case <-pongs:
			if err := c.Write(ctx, websocket.MessageText, session.PongMessage()); err != nil {
				return err
			}
		case f := <-sub.Frames():
			typ := websocket.MessageText
			if f.Kind == hub.FrameAudio {
				typ = websocket.MessageBinary
			}
			if err := c.Write(ctx, typ, f.Data); err != nil {
				return err
			}
		}
	}
}

// volume fans a subscriber's volume change out to everyone.
func (g *Gateway) volume(value float64) {
	g.mu.Lock()
	b := g.bcast
	g.mu.Unlock()
	if b != nil {
		b.Volume(value)
		return
	}
	g.hub.Publish(hub.Frame{Kind: hub.FrameText, Data: session.VolumeMessage(value)})
}

// stop is the authoritative subscriber stop.
func (g *Gateway) stop() {
	g.mu.Lock()
	b := g.bcast
	g.mu.Unlock()
	if b != nil {
		b.Stop()
		return
	}
	g.hub.Flush()
}
