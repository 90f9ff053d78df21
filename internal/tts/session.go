package tts

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"uki-gateway/internal/config"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// closeGrace bounds the close frame write on a graceful shutdown.
const closeGrace = time.Second

// Session drives one synthesis task over one channel:
//
//	Connect -> StartTask -> Stream -> Finish
//
// Every step checks the current state before touching the channel. Any
// failure moves the session to StateError and releases the channel. A
// Session is not safe for concurrent use and is never reused.
type Session struct {
	id       uuid.UUID
	dialer   Dialer
	settings config.TTSConfig
	logger   *slog.Logger

	state     State
	conn      Conn
	released  bool
	fragments []string
}

// NewSession creates an idle session.
func NewSession(dialer Dialer, settings config.TTSConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		id:       id,
		dialer:   dialer,
		settings: settings,
		logger:   logger.With("session_id", id.String()),
		state:    StateIdle,
	}
}

// ID identifies the session in logs and results.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Connect opens the channel and waits for connected_success.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(StateIdle, StateConnecting); err != nil {
		return err
	}

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("could not open synthesis channel: %w", err))
	}
	s.conn = conn

	stop := s.watch(ctx)
	defer stop()

	msg, err := s.receive(ctx)
	if err != nil {
		return s.fail(err)
	}
	if msg.Event != EventConnectedSuccess {
		return s.fail(fmt.Errorf("%w: want %s, got %q", ErrUnexpectedEvent, EventConnectedSuccess, msg.Event))
	}

	return s.transition(StateConnecting, StateConnected)
}

// StartTask sends task_start with the configured voice and audio settings
// and waits for task_started.
func (s *Session) StartTask(ctx context.Context) error {
	if err := s.transition(StateConnected, StateTaskStarting); err != nil {
		return err
	}

	stop := s.watch(ctx)
	defer stop()

	start := taskStartMessage{
		Event: EventTaskStart,
		Model: s.settings.Model,
		VoiceSetting: voiceSetting{
			VoiceID: s.settings.VoiceID,
			Speed:   s.settings.Speed,
			Vol:     s.settings.Volume,
			Pitch:   s.settings.Pitch,
			Emotion: s.settings.Emotion,
		},
		AudioSetting: audioSetting{
			SampleRate: s.settings.SampleRate,
			Bitrate:    s.settings.Bitrate,
			Format:     s.settings.Format,
			Channel:    s.settings.Channel,
		},
	}
	if err := s.send(ctx, start); err != nil {
		return s.fail(err)
	}

	msg, err := s.receive(ctx)
	if err != nil {
		return s.fail(err)
	}
	if msg.Event != EventTaskStarted {
		return s.fail(fmt.Errorf("%w: want %s, got %q", ErrUnexpectedEvent, EventTaskStarted, msg.Event))
	}

	return s.transition(StateTaskStarting, StateTaskStarted)
}

// Stream sends the text and collects hex audio fragments, in arrival order,
// until a message flagged is_final.
func (s *Session) Stream(ctx context.Context, text string) error {
	if err := s.transition(StateTaskStarted, StateStreaming); err != nil {
		return err
	}
	if text == "" {
		return s.fail(ErrEmptyText)
	}

	stop := s.watch(ctx)
	defer stop()

	if err := s.send(ctx, taskContinueMessage{Event: EventTaskContinue, Text: text}); err != nil {
		return s.fail(err)
	}

	for {
		msg, err := s.receive(ctx)
		if err != nil {
			return s.fail(err)
		}
		if msg.Data != nil && msg.Data.Audio != "" {
			// Kept as text: a fragment may end on an odd hex digit.
			s.fragments = append(s.fragments, msg.Data.Audio)
		}
		if msg.IsFinal {
			break
		}
	}

	s.logger.Debug("audio stream complete", "fragments", len(s.fragments))
	return nil
}

// Finish sends task_finish, closes the channel and decodes the audio.
func (s *Session) Finish(ctx context.Context) ([]byte, error) {
	if err := s.transition(StateStreaming, StateFinishing); err != nil {
		return nil, err
	}

	stop := s.watch(ctx)
	err := s.send(ctx, taskFinishMessage{Event: EventTaskFinish})
	stop()
	if err != nil {
		return nil, s.fail(err)
	}
	s.release(true)

	audio, err := decodeFragments(s.fragments)
	if err != nil {
		return nil, s.fail(err)
	}

	if err := s.transition(StateFinishing, StateClosed); err != nil {
		return nil, err
	}
	s.logger.Info("synthesis session closed", "audio_bytes", len(audio))
	return audio, nil
}

// Close releases the channel. Closing a session that has not finished
// aborts it. Close is idempotent.
func (s *Session) Close() error {
	if !s.state.Terminal() {
		s.fail(ErrAborted)
		return nil
	}
	s.release(false)
	return nil
}

// transition moves from one state to the next, failing the session when the
// step is called out of order.
func (s *Session) transition(from, to State) error {
	if s.state != from {
		err := fmt.Errorf("%w: %s -> %s attempted in state %s", ErrInvalidTransition, from, to, s.state)
		if s.state.Terminal() {
			return err
		}
		return s.fail(err)
	}
	s.logger.Debug("session transition", "from", from.String(), "to", to.String())
	s.state = to
	return nil
}

// fail records err, enters StateError and releases the channel.
func (s *Session) fail(err error) error {
	from := s.state
	s.state = StateError
	s.release(false)
	s.logger.Error("synthesis session failed", "state", from.String(), "error", err)
	return err
}

// release closes the channel once. A graceful release sends a close frame first.
func (s *Session) release(graceful bool) {
	if s.conn == nil || s.released {
		return
	}
	s.released = true
	if graceful {
		if ws, ok := s.conn.(interface {
			WriteControl(messageType int, data []byte, deadline time.Time) error
		}); ok {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		}
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("channel close returned error", "error", err)
	}
}

// watch closes the channel if ctx ends while a step is blocked on it.
func (s *Session) watch(ctx context.Context) (stop func() bool) {
	conn := s.conn
	return context.AfterFunc(ctx, func() {
		conn.Close()
	})
}

func (s *Session) send(ctx context.Context, msg any) error {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return withContext(ctx, fmt.Errorf("could not write to synthesis channel: %w", err))
	}
	return nil
}

func (s *Session) receive(ctx context.Context) (*serverMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, withContext(ctx, fmt.Errorf("could not read from synthesis channel: %w", err))
	}

	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Event == EventTaskFailed {
		detail := "no detail"
		if msg.BaseResp != nil {
			detail = fmt.Sprintf("%d %s", msg.BaseResp.StatusCode, msg.BaseResp.StatusMsg)
		}
		return nil, fmt.Errorf("%w: %s", ErrTaskFailed, detail)
	}
	return &msg, nil
}

// withContext prefers the context's error when it caused the failure.
func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// decodeFragments joins every fragment before decoding; fragment boundaries
// are not aligned to whole bytes.
func decodeFragments(fragments []string) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, ErrNoAudio
	}
	audio, err := hex.DecodeString(strings.Join(fragments, ""))
	if err != nil {
		return nil, fmt.Errorf("could not decode audio: %w", err)
	}
	return audio, nil
}
