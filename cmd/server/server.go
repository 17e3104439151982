package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/steveyiyo/adsflex-assistant/internal/config"
	"github.com/steveyiyo/adsflex-assistant/internal/core/audit"
	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
	"github.com/steveyiyo/adsflex-assistant/internal/core/gemini"
	"github.com/steveyiyo/adsflex-assistant/internal/core/openai"
	"github.com/steveyiyo/adsflex-assistant/internal/core/persona"
	"github.com/steveyiyo/adsflex-assistant/internal/core/session"
	h "github.com/steveyiyo/adsflex-assistant/internal/http"
	"github.com/steveyiyo/adsflex-assistant/internal/logging"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
	"github.com/steveyiyo/adsflex-assistant/internal/repo/memory"
	"github.com/steveyiyo/adsflex-assistant/pkg/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, closer := logging.New(os.Stderr, logging.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	defer closer.Close()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

type textBackend interface {
	chat.Streamer
	audit.Generator
}

func run(cfg config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}
	if cfg.GeminiVoice != "" {
		p.VoiceName = cfg.GeminiVoice
	}
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set; voice sessions will fail to connect")
	}

	var backend textBackend
	switch cfg.ChatProvider {
	case "openai":
		backend, err = openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			SystemPrompt: p.SystemPrompt,
		}, log)
	default:
		backend, err = gemini.New(cfg.GeminiAPIKey, cfg.GeminiTextModel, p.SystemPrompt, log)
	}
	if err != nil {
		return err
	}

	liveOpts := []gemini.LiveOption{gemini.WithLiveModel(cfg.GeminiLiveModel), gemini.WithLiveLogger(log)}
	if cfg.GeminiLiveURL != "" {
		liveOpts = append(liveOpts, gemini.WithLiveURL(cfg.GeminiLiveURL))
	}
	live := gemini.NewLiveClient(cfg.GeminiAPIKey, liveOpts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := session.NewService(memory.NewSessionRepo(), ws.NewHub(), backend, live, session.VoiceSettings{
		Instructions:     p.VoiceInstructions(),
		VoiceName:        p.VoiceName,
		FrameSize:        cfg.CaptureFrameSize,
		CaptureRate:      cfg.CaptureSampleRate,
		PlaybackRate:     cfg.PlaybackSampleRate,
		PlaybackChannels: cfg.PlaybackChannels,
	}, m, log)

	r := h.NewRouter(cfg, h.Deps{
		Sessions: svc,
		Audit:    audit.NewService(backend, p, m, log),
		Registry: reg,
		Greeting: p.Greeting,
		Log:      log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr, "chat", cfg.ChatProvider, "persona", p.Name)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		svc.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
