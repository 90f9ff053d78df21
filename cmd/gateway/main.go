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
	"strings"
	"syscall"

	"uki-gateway/internal/chat"
	"uki-gateway/internal/config"
	"uki-gateway/internal/server"
	"uki-gateway/internal/tts"
	"uki-gateway/internal/upstream"

	"golang.org/x/sync/errgroup"
)

// main is the entry point for the uki gateway.
func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// One transport per upstream, each with its own credentials.
	chatUpstream := upstream.New(cfg.Chat.APIKey, upstream.Options{
		ResponseHeaderTimeout: cfg.Chat.Timeout(),
	})
	ttsUpstream := upstream.New(cfg.TTS.APIKey, upstream.Options{
		HandshakeTimeout:   cfg.TTS.HandshakeTimeout(),
		InsecureSkipVerify: cfg.TTS.InsecureSkipVerify,
	})
	if cfg.TTS.InsecureSkipVerify {
		logger.Warn("certificate validation disabled for the synthesis upstream")
	}

	// Inject clients into the services
	chatService := chat.NewService(chat.NewHTTPCompletionClient(chatUpstream, cfg.Chat.URL), cfg.Chat, logger)
	ttsService := tts.NewService(tts.NewWSDialer(ttsUpstream, cfg.TTS.URL), cfg.TTS, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.NewRouter(cfg.Server, chatService, ttsService, logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway starting", "addr", srv.Addr, "chat_model", cfg.Chat.Model, "tts_model", cfg.TTS.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not shut down cleanly: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
