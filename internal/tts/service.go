package tts

//go:generate mockgen -destination=./service_mock_test.go -package=tts -source=service.go Service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"uki-gateway/internal/config"
)

// Service defines the speech-synthesis operation of the gateway.
type Service interface {
	// Synthesize runs one session for text and returns the decoded audio.
	// There is no retry.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)
}

// service is the concrete implementation of the Service interface.
type service struct {
	dialer Dialer
	cfg    config.TTSConfig
	logger *slog.Logger
}

// NewService is the constructor for the TTS session driver.
func NewService(dialer Dialer, cfg config.TTSConfig, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		dialer: dialer,
		cfg:    cfg,
		logger: logger.With("component", "tts"),
	}
}

// Synthesize implements the Service interface.
func (s *service) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := withTimeout(ctx, s.cfg.SessionTimeout())
	defer cancel()

	session := NewSession(s.dialer, s.cfg, s.logger)
	defer session.Close()

	// The handshake gets its own, shorter bound.
	handshakeCtx, cancelHandshake := withTimeout(ctx, s.cfg.HandshakeTimeout())
	defer cancelHandshake()

	if err := session.Connect(handshakeCtx); err != nil {
		return nil, fmt.Errorf("session %s: connect: %w", session.ID(), err)
	}
	if err := session.StartTask(handshakeCtx); err != nil {
		return nil, fmt.Errorf("session %s: start task: %w", session.ID(), err)
	}
	cancelHandshake()

	if err := session.Stream(ctx, text); err != nil {
		return nil, fmt.Errorf("session %s: stream: %w", session.ID(), err)
	}

	audio, err := session.Finish(ctx)
	if err != nil {
		return nil, fmt.Errorf("session %s: finish: %w", session.ID(), err)
	}

	return &AudioResult{
		SessionID:   session.ID(),
		Audio:       audio,
		ContentType: ContentTypeMP3,
	}, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
