// Command hirevoice runs the voice interview engine server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hirevoice/hirevoice/internal/archive"
	"github.com/hirevoice/hirevoice/internal/backend"
	"github.com/hirevoice/hirevoice/internal/config"
	"github.com/hirevoice/hirevoice/internal/gateway"
	"github.com/hirevoice/hirevoice/internal/health"
	"github.com/hirevoice/hirevoice/internal/interview"
	"github.com/hirevoice/hirevoice/internal/observe"
	"github.com/hirevoice/hirevoice/internal/transcript"
	"github.com/hirevoice/hirevoice/pkg/recognizer"
	"github.com/hirevoice/hirevoice/pkg/recognizer/deepgram"
	"github.com/hirevoice/hirevoice/pkg/speech"
	"github.com/hirevoice/hirevoice/pkg/synthesizer"
	elevenlabssynth "github.com/hirevoice/hirevoice/pkg/synthesizer/elevenlabs"
	openaisynth "github.com/hirevoice/hirevoice/pkg/synthesizer/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hirevoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hirevoice: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("hirevoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hirevoice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Speech providers ──────────────────────────────────────────────────────
	recogProvider, err := buildRecognizer(cfg)
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}
	synthProvider, err := buildSynthesizer(cfg)
	if err != nil {
		slog.Error("failed to build synthesizer", "err", err)
		return 1
	}

	// ── Interview backend ─────────────────────────────────────────────────────
	backendClient, checkers, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to build backend", "err", err)
		return 1
	}

	// ── Archive (optional) ────────────────────────────────────────────────────
	var gatewayOpts []gateway.Option
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		store, err := archive.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect interview archive", "err", err)
			return 1
		}
		defer store.Close()
		gatewayOpts = append(gatewayOpts, gateway.WithArchiver(store))
		checkers = append(checkers, health.Checker{Name: "archive", Check: store.Ping})
		slog.Info("interview archive enabled")
	}

	// ── Transcript correction ─────────────────────────────────────────────────
	var corrector interview.Corrector
	if len(cfg.Keywords) > 0 {
		corrector = transcript.NewCorrector(cfg.Keywords)
		slog.Info("transcript correction enabled", "keywords", len(cfg.Keywords))
	}

	voice := speech.DefaultVoiceSettings()
	voice.VoiceID = cfg.Synthesizer.VoiceID
	if cfg.Synthesizer.Rate > 0 {
		voice.Rate = cfg.Synthesizer.Rate
	}
	stream := recognizer.StreamConfig{
		SampleRate: cfg.Recognizer.SampleRate,
		Channels:   1,
		Language:   cfg.Recognizer.Language,
		Keywords:   cfg.Keywords,
	}

	factory := func(scriptID string, sink func(chunk []byte)) (*interview.Session, error) {
		return interview.New(interview.Config{
			ScriptID:       scriptID,
			Recognizer:     recogProvider,
			Synthesizer:    synthProvider,
			Backend:        backendClient,
			Corrector:      corrector,
			Voice:          voice,
			Stream:         stream,
			Debounce:       cfg.Engine.Debounce,
			GraceMin:       cfg.Engine.GraceMin,
			GraceMax:       cfg.Engine.GraceMax,
			RequestTimeout: cfg.Engine.RequestTimeout,
			AudioSink:      sink,
		})
	}

	gatewayOpts = append(gatewayOpts,
		gateway.WithLogger(logger),
		gateway.WithHealth(health.New(checkers...)),
	)
	gw, err := gateway.NewServer(factory, gatewayOpts...)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildRecognizer constructs the configured recognition provider, wrapped in
// the single-session gate and the confidence filter.
func buildRecognizer(cfg *config.Config) (recognizer.Provider, error) {
	var inner recognizer.Provider
	switch cfg.Recognizer.Provider {
	case "deepgram":
		var opts []deepgram.Option
		if cfg.Recognizer.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Recognizer.Model))
		}
		if cfg.Recognizer.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Recognizer.Language))
		}
		if cfg.Recognizer.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(cfg.Recognizer.SampleRate))
		}
		p, err := deepgram.New(cfg.Recognizer.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", cfg.Recognizer.Provider)
	}

	filtered := recognizer.WithConfidenceFilter(inner,
		cfg.Recognizer.InterimConfidence, cfg.Recognizer.FinalConfidence)
	return recognizer.NewGate(filtered), nil
}

// buildSynthesizer constructs the configured synthesis provider, wrapped in
// the serializer so utterances never overlap across session handovers.
func buildSynthesizer(cfg *config.Config) (synthesizer.Provider, error) {
	var inner synthesizer.Provider
	switch cfg.Synthesizer.Provider {
	case "openai":
		var opts []openaisynth.Option
		if cfg.Synthesizer.Model != "" {
			opts = append(opts, openaisynth.WithModel(cfg.Synthesizer.Model))
		}
		p, err := openaisynth.New(cfg.Synthesizer.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		inner = p
	case "elevenlabs":
		var opts []elevenlabssynth.Option
		if cfg.Synthesizer.Model != "" {
			opts = append(opts, elevenlabssynth.WithModel(cfg.Synthesizer.Model))
		}
		p, err := elevenlabssynth.New(cfg.Synthesizer.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown synthesizer provider %q", cfg.Synthesizer.Provider)
	}
	return synthesizer.NewSerializer(inner), nil
}

// buildBackend constructs the interview backend: the remote HTTP client when
// an endpoint is configured, otherwise the in-process LLM backend. When both
// are configured the LLM backend becomes a fallback for interviews the remote
// backend cannot start. The returned checkers feed the readiness probe.
func buildBackend(cfg *config.Config) (backend.Client, []health.Checker, error) {
	var local backend.Client
	if cfg.Backend.LLM.Provider != "" {
		var opts []anyllmlib.Option
		if cfg.Backend.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Backend.LLM.APIKey))
		}
		completer, err := backend.NewCompleter(cfg.Backend.LLM.Provider, cfg.Backend.LLM.Model, opts...)
		if err != nil {
			return nil, nil, err
		}
		local = backend.NewLocal(completer, slog.Default())
	}

	if cfg.Backend.Endpoint == "" {
		slog.Info("using in-process interview backend",
			"provider", cfg.Backend.LLM.Provider, "model", cfg.Backend.LLM.Model)
		return local, nil, nil
	}

	client, err := backend.NewHTTPClient(cfg.Backend.Endpoint)
	if err != nil {
		return nil, nil, err
	}
	breaker := client.Breaker()
	checker := health.Checker{Name: "backend", Check: func(context.Context) error {
		if state := breaker.State(); state == "open" {
			return errors.New("circuit breaker open")
		}
		return nil
	}}
	slog.Info("using remote interview backend", "endpoint", cfg.Backend.Endpoint)
	if local != nil {
		slog.Info("in-process fallback backend enabled",
			"provider", cfg.Backend.LLM.Provider, "model", cfg.Backend.LLM.Model)
		return backend.NewFallback(client, local, slog.Default()), []health.Checker{checker}, nil
	}
	return client, []health.Checker{checker}, nil
}
