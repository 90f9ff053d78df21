// Package client talks to a running gateway the way the watch and phone
// apps do. It backs the ukictl command.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"uki-gateway/internal/chat"

	"github.com/bytedance/sonic"
)

const ssePrefix = "data: "

// ErrStreamIncomplete is returned when the event stream ends without a done event.
var ErrStreamIncomplete = errors.New("chat stream ended before completion")

// ServerError is returned for any non-200 answer from the gateway.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

// --- DTOs ---

type chatRequest struct {
	Message   string         `json:"message"`
	History   []chat.Message `json:"history"`
	EmojiHint bool           `json:"emoji_hint"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

type chunkEvent struct {
	Chunk    string  `json:"chunk"`
	Done     bool    `json:"done"`
	FullText *string `json:"full_text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client calls the gateway over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the gateway at baseURL. A zero timeout means none.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ChatStream sends message and calls onChunk for every piece of the reply as
// it arrives. It returns the full reply reported by the terminal event.
func (c *Client) ChatStream(ctx context.Context, message string, history []chat.Message, emojiHint bool, onChunk func(string)) (string, error) {
	if history == nil {
		history = []chat.Message{}
	}
	resp, err := c.post(ctx, "/chat", chatRequest{Message: message, History: history, EmojiHint: emojiHint})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var collected strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}

		var event chunkEvent
		if err := sonic.UnmarshalString(strings.TrimPrefix(line, ssePrefix), &event); err != nil {
			continue
		}
		if event.Done {
			if event.FullText != nil {
				return *event.FullText, nil
			}
			return collected.String(), nil
		}

		collected.WriteString(event.Chunk)
		if onChunk != nil {
			onChunk(event.Chunk)
		}
	}
	if err := scanner.Err(); err != nil {
		return collected.String(), fmt.Errorf("could not read chat stream: %w", err)
	}
	return collected.String(), ErrStreamIncomplete
}

// Chat sends message and waits for the whole reply.
func (c *Client) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	return c.ChatStream(ctx, message, history, false, nil)
}

// Speak returns the mp3 audio for text.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.post(ctx, "/tts", ttsRequest{Text: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read audio: %w", err)
	}
	return audio, nil
}

// Health returns the gateway's status message.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read health response: %w", err)
	}
	var health healthResponse
	if err := sonic.Unmarshal(body, &health); err != nil {
		return "", fmt.Errorf("could not decode health response: %w", err)
	}
	if health.Status != "ok" {
		return "", fmt.Errorf("gateway reported status %q", health.Status)
	}
	return health.Message, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends req and turns any non-200 answer into a *ServerError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach gateway: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	serverErr := &ServerError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var decoded errorResponse
	if sonic.Unmarshal(body, &decoded) == nil {
		serverErr.Message = decoded.Error
	}
	return nil, serverErr
}
