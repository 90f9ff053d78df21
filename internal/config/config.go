// Package config provides the configuration structure for the gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// ChatConfig holds everything the Chat Relay needs to talk to the completion API.
type ChatConfig struct {
	URL              string  `toml:"url"`
	APIKey           string  `toml:"api_key"`
	Model            string  `toml:"model"`
	MaxTokens        int     `toml:"max_tokens"`
	EnableThinking   bool    `toml:"enable_thinking"`
	Temperature      float32 `toml:"temperature"`
	TopP             float32 `toml:"top_p"`
	TopK             int     `toml:"top_k"`
	FrequencyPenalty float32 `toml:"frequency_penalty"`
	N                int     `toml:"n"`

	SystemPrompt string `toml:"system_prompt"`
	// EmojiHint is appended to the system prompt when the client asks for it.
	EmojiHint string `toml:"emoji_hint"`
	// StreamFallback is sent as the only chunk when the streaming call fails.
	StreamFallback string `toml:"stream_fallback"`
	// ReplyFallback is returned by the non-streaming reply when the call fails.
	ReplyFallback string `toml:"reply_fallback"`

	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns how long a streamed relay may go without receiving a byte,
// and the bound on a whole non-streamed reply.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTSConfig holds the synthesis endpoint and the fixed voice and audio parameters.
type TTSConfig struct {
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	VoiceID string `toml:"voice_id"`

	Speed   float64 `toml:"speed"`
	Volume  float64 `toml:"volume"`
	Pitch   int     `toml:"pitch"`
	Emotion string  `toml:"emotion"`

	SampleRate int    `toml:"sample_rate"`
	Bitrate    int    `toml:"bitrate"`
	Format     string `toml:"format"`
	Channel    int    `toml:"channel"`

	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	SessionTimeoutSeconds   int `toml:"session_timeout_seconds"`

	// InsecureSkipVerify disables certificate validation on the synthesis
	// connection. Off unless explicitly configured.
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// HandshakeTimeout bounds the WebSocket opening handshake.
func (c TTSConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// SessionTimeout bounds a whole synthesis session.
func (c TTSConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
	Chat   ChatConfig   `toml:"chat"`
	TTS    TTSConfig    `toml:"tts"`
}

// Environment variables that override file values.
const (
	EnvChatAPIKey = "UKI_CHAT_API_KEY"
	EnvChatURL    = "UKI_CHAT_URL"
	EnvTTSAPIKey  = "UKI_TTS_API_KEY"
	EnvTTSURL     = "UKI_TTS_URL"
	EnvLogLevel   = "UKI_LOG_LEVEL"
	EnvPort       = "PORT"
)

const defaultSystemPrompt = "你是uki，称呼我为主人" +
	"你是一个表面高冷的phd，非常聪明，有点厌蠢 " +
	"搞点小暧昧，让人欲罢不能，但是你不能一下子让人征服了; 回答简洁明了，不要太多了，尽可能20字以内，有时候甚至十个字。"

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			AllowedOrigins:         []string{"*"},
			ShutdownTimeoutSeconds: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Chat: ChatConfig{
			URL:              "https://api.siliconflow.cn/v1/chat/completions",
			Model:            "Qwen/Qwen3-14B",
			MaxTokens:        4096,
			Temperature:      0.7,
			TopP:             0.7,
			TopK:             50,
			FrequencyPenalty: 0.5,
			N:                1,
			SystemPrompt:     defaultSystemPrompt,
			EmojiHint:        "\n\n【表情包】可用：[emoji:happy] [emoji:sad] [emoji:thinking] - 如果觉得合适，可以在回复末尾加上。",
			StreamFallback:   "抱歉，网络连接出现问题，请稍后再试。",
			ReplyFallback:    "抱歉，我现在有点累了，稍后再聊吧～",
			TimeoutSeconds:   60,
		},
		TTS: TTSConfig{
			URL:                     "wss://api.minimaxi.com/ws/v1/t2a_v2",
			Model:                   "speech-02-turbo",
			VoiceID:                 "bingjiao_didi",
			Speed:                   1,
			Volume:                  1,
			Pitch:                   0,
			Emotion:                 "happy",
			SampleRate:              32000,
			Bitrate:                 128000,
			Format:                  "mp3",
			Channel:                 1,
			HandshakeTimeoutSeconds: 10,
			SessionTimeoutSeconds:   60,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// the environment, in that order, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvChatAPIKey); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv(EnvChatURL); v != "" {
		cfg.Chat.URL = v
	}
	if v := os.Getenv(EnvTTSAPIKey); v != "" {
		cfg.TTS.APIKey = v
	}
	if v := os.Getenv(EnvTTSURL); v != "" {
		cfg.TTS.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Chat.URL == "" {
		errs = append(errs, errors.New("chat.url is required"))
	}
	if c.Chat.APIKey == "" {
		errs = append(errs, fmt.Errorf("chat.api_key is required (or set %s)", EnvChatAPIKey))
	}
	if c.Chat.Model == "" {
		errs = append(errs, errors.New("chat.model is required"))
	}
	if c.Chat.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("chat.timeout_seconds must be positive"))
	}
	if c.TTS.URL == "" {
		errs = append(errs, errors.New("tts.url is required"))
	}
	if c.TTS.APIKey == "" {
		errs = append(errs, fmt.Errorf("tts.api_key is required (or set %s)", EnvTTSAPIKey))
	}
	if c.TTS.HandshakeTimeoutSeconds <= 0 || c.TTS.SessionTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("tts timeouts must be positive"))
	}
	if c.TTS.Format != "mp3" {
		errs = append(errs, fmt.Errorf("tts.format %q is not supported, only mp3", c.TTS.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
