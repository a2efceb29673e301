// Command babelgate is the real-time speech translation gateway: browser
// audio in, streaming transcription, chat-completion translation, and
// synthesized speech back out.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/babelgate/internal/config"
	"github.com/MrWong99/babelgate/internal/gateway"
	"github.com/MrWong99/babelgate/internal/observe"
	"github.com/MrWong99/babelgate/pkg/provider/stt/deepgram"
	"github.com/MrWong99/babelgate/pkg/provider/translate"
	"github.com/MrWong99/babelgate/pkg/provider/tts/edge"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "babelgate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("babelgate starting",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"translator", cfg.Translator.Provider,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "babelgate",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	// The global meter provider is now the SDK one InitProvider installed.
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config watcher (hot log level) ────────────────────────────────────────
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Gateway + HTTP server ─────────────────────────────────────────────────
	gw, err := gateway.New(cfg, providers,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the upstream clients from the validated config.
func buildProviders(cfg *config.Config) (gateway.Providers, error) {
	var ps gateway.Providers

	var sttOpts []deepgram.Option
	if cfg.STT.Model != "" {
		sttOpts = append(sttOpts, deepgram.WithModel(cfg.STT.Model))
	}
	if cfg.STT.Endpoint != "" {
		sttOpts = append(sttOpts, deepgram.WithEndpoint(cfg.STT.Endpoint))
	}
	sttProvider, err := deepgram.New(cfg.STT.APIKey, sttOpts...)
	if err != nil {
		return ps, fmt.Errorf("create stt provider: %w", err)
	}
	ps.STT = sttProvider
	slog.Info("provider created", "kind", "stt", "name", "deepgram", "model", cfg.STT.Model)

	reg := config.DefaultRegistry()
	translator, err := reg.CreateTranslator(cfg.Translator, translate.StyleExact)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return ps, fmt.Errorf("unknown translator %q", cfg.Translator.Provider)
		}
		return ps, fmt.Errorf("create translator: %w", err)
	}
	ps.Translator = translator

	// Broadcast segments arrive as rolling fragments and read better in the
	// simultaneous-interpreter register.
	broadcastTranslator, err := reg.CreateTranslator(cfg.Translator, translate.StyleSimultaneous)
	if err != nil {
		return ps, fmt.Errorf("create broadcast translator: %w", err)
	}
	ps.BroadcastTranslator = broadcastTranslator
	slog.Info("provider created", "kind", "translator", "name", cfg.Translator.Provider, "model", cfg.Translator.Model)

	ps.TTS = edge.New()
	slog.Info("provider created", "kind", "tts", "name", "edge")

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        babelgate — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("STT", "deepgram", cfg.STT.Model)
	printLine("Translator", cfg.Translator.Provider, cfg.Translator.Model)
	printLine("TTS", "edge", "")
	printLine("Broadcast", cfg.Broadcast.Direction, "")
	fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Conversation.MaxSessions)
	fmt.Printf("║  Max subscribers : %-19d ║\n", cfg.Hub.MaxSubscribers)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled (wss)")
	} else {
		fmt.Printf("║  TLS             : %-19s ║\n", "disabled (ws)")
	}
	fmt.Printf("║  Port            : %-19d ║\n", cfg.Server.Port)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
