package chat

//go:generate mockgen -destination=./service_mock_test.go -package=chat -source=service.go Service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"uki-gateway/internal/config"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// Event-stream framing used by the completion API.
const (
	dataPrefix  = "data:"
	endSentinel = "[DONE]"
)

// maxLineSize caps a single event-stream line.
const maxLineSize = 1 << 20

// Service defines the chat operations of the gateway.
type Service interface {
	// Relay streams a completion as chunks for a validated request. The
	// sequence ends with exactly one chunk where Done is true, unless the
	// caller stops early or ctx is cancelled. It makes a single upstream
	// call and cannot be restarted.
	Relay(ctx context.Context, req *Request) iter.Seq[StreamChunk]

	// Reply returns a whole completion in one piece.
	Reply(ctx context.Context, req *Request) (string, error)
}

// service is the concrete implementation of the Service interface.
type service struct {
	completions CompletionClient
	cfg         config.ChatConfig
	logger      *slog.Logger
}

// NewService is the constructor for the chat relay.
func NewService(completions CompletionClient, cfg config.ChatConfig, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		completions: completions,
		cfg:         cfg,
		logger:      logger.With("component", "chat"),
	}
}

// buildMessages puts the system prompt first, then the history in order, then the user message.
func (s *service) buildMessages(req *Request) []openai.ChatCompletionMessage {
	prompt := s.cfg.SystemPrompt
	if req.EmojiHint {
		prompt += s.cfg.EmojiHint
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: RoleSystem, Content: prompt})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: RoleUser, Content: req.Message})
	return messages
}

func (s *service) completionRequest(req *Request, stream bool) *CompletionRequest {
	return &CompletionRequest{
		Model:            s.cfg.Model,
		Messages:         s.buildMessages(req),
		Stream:           stream,
		MaxTokens:        s.cfg.MaxTokens,
		EnableThinking:   s.cfg.EnableThinking,
		Temperature:      s.cfg.Temperature,
		TopP:             s.cfg.TopP,
		TopK:             s.cfg.TopK,
		FrequencyPenalty: s.cfg.FrequencyPenalty,
		N:                s.cfg.N,
	}
}

func (s *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.Timeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// idleReader cancels the call when no bytes arrive for the idle window.
// Every successful read pushes the deadline out again.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
	}
	return n, err
}

// Relay implements the Service interface.
func (s *service) Relay(ctx context.Context, req *Request) iter.Seq[StreamChunk] {
	return func(yield func(StreamChunk) bool) {
		log := s.logger.With("relay_id", uuid.NewString())

		callCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		idle := s.cfg.Timeout()
		var timer *time.Timer
		if idle > 0 {
			// Covers the wait for the first line as well.
			timer = time.AfterFunc(idle, cancel)
			defer timer.Stop()
		}

		var full strings.Builder
		emit := func(text string) bool {
			full.WriteString(text)
			return yield(StreamChunk{Text: text})
		}

		body, err := s.completions.StreamCompletion(callCtx, s.completionRequest(req, true))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("completion stream failed to open", "error", err)
			if !emit(s.cfg.StreamFallback) {
				return
			}
		} else {
			defer body.Close()

			stream := io.Reader(body)
			if timer != nil {
				stream = &idleReader{r: body, timer: timer, idle: idle}
			}

			stopped := false
			err := scanDeltas(stream, func(delta string) bool {
				if !emit(delta) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				log.Debug("caller stopped pulling")
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("completion stream broke", "error", err, "relayed_bytes", full.Len())
				if !emit(s.cfg.StreamFallback) {
					return
				}
			}
		}

		yield(StreamChunk{Done: true, FullText: full.String()})
	}
}

// scanDeltas reads the event stream line by line and hands every non-empty
// content delta to fn. It returns when the sentinel is seen, the body ends,
// fn returns false, or the read fails.
func scanDeltas(body io.Reader, fn func(delta string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, dataPrefix); ok {
			line = strings.TrimSpace(rest)
		}
		if line == endSentinel {
			return nil
		}

		delta, ok := parseDelta(line)
		if !ok || delta == "" {
			continue
		}
		if !fn(delta) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not read completion stream: %w", err)
	}
	return nil
}

// parseDelta extracts choices[0].delta.content. Lines that are not valid
// chunks (comments, heartbeats) report ok=false.
func parseDelta(line string) (string, bool) {
	var chunk openai.ChatCompletionStreamResponse
	if err := sonic.UnmarshalString(line, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}

// Reply implements the Service interface.
func (s *service) Reply(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.completions.Complete(callCtx, s.completionRequest(req, false))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("reply abandoned: %w", ctx.Err())
		}
		s.logger.Error("completion failed", "error", err)
		return s.cfg.ReplyFallback, nil
	}
	if len(resp.Choices) == 0 {
		s.logger.Error("completion returned no choices", "id", resp.ID)
		return s.cfg.ReplyFallback, nil
	}
	return resp.Choices[0].Message.Content, nil
}
