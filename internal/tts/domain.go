package tts

import (
	"errors"

	"github.com/google/uuid"
)

// State is a step of the synthesis session. Sessions only move forward;
// StateError can be entered from any state before StateClosed.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateTaskStarting
	StateTaskStarted
	StateStreaming
	StateFinishing
	StateClosed
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateTaskStarting: "task_starting",
	StateTaskStarted:  "task_started",
	StateStreaming:    "streaming",
	StateFinishing:    "finishing",
	StateClosed:       "closed",
	StateError:        "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Control events exchanged with the synthesis service.
const (
	EventConnectedSuccess = "connected_success"
	EventTaskStart        = "task_start"
	EventTaskStarted      = "task_started"
	EventTaskContinue     = "task_continue"
	EventTaskFinish       = "task_finish"
	EventTaskFailed       = "task_failed"
)

// ContentTypeMP3 is the only audio encoding the upstream is asked for.
const ContentTypeMP3 = "audio/mpeg"

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnexpectedEvent is returned when a handshake reply carries the wrong event.
	ErrUnexpectedEvent = errors.New("unexpected event")
	// ErrTaskFailed is returned when the service reports the task as failed.
	ErrTaskFailed = errors.New("synthesis task failed")
	// ErrMalformedMessage is returned for frames that are not valid JSON messages.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrNoAudio is returned when the stream finished without any audio.
	ErrNoAudio = errors.New("no audio received")
	// ErrInvalidTransition is returned when a step is called out of order.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrAborted is returned when a session is closed before it finished.
	ErrAborted = errors.New("session aborted")
)

// AudioResult is the decoded output of one session.
type AudioResult struct {
	SessionID   uuid.UUID
	Audio       []byte
	ContentType string
}

// Client messages
type (
	voiceSetting struct {
		VoiceID string  `json:"voice_id"`
		Speed   float64 `json:"speed"`
		Vol     float64 `json:"vol"`
		Pitch   int     `json:"pitch"`
		Emotion string  `json:"emotion"`
	}

	audioSetting struct {
		SampleRate int    `json:"sample_rate"`
		Bitrate    int    `json:"bitrate"`
		Format     string `json:"format"`
		Channel    int    `json:"channel"`
	}

	taskStartMessage struct {
		Event        string       `json:"event"`
		Model        string       `json:"model"`
		VoiceSetting voiceSetting `json:"voice_setting"`
		AudioSetting audioSetting `json:"audio_setting"`
	}

	taskContinueMessage struct {
		Event string `json:"event"`
		Text  string `json:"text"`
	}

	taskFinishMessage struct {
		Event string `json:"event"`
	}
)

// Server messages
type (
	serverMessage struct {
		Event    string     `json:"event"`
		IsFinal  bool       `json:"is_final"`
		Data     *audioData `json:"data,omitempty"`
		BaseResp *baseResp  `json:"base_resp,omitempty"`
	}

	// audioData.Audio is a hex-encoded piece of the mp3 stream.
	audioData struct {
		Audio string `json:"audio"`
	}

	baseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	}
)
