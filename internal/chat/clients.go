package chat

//go:generate mockgen -destination=./clients_mock_test.go -package=chat -source=clients.go CompletionClient

import (
	"context"
	"fmt"
	"io"

	"uki-gateway/internal/upstream"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
)

// CompletionRequest is the body sent to the OpenAI-compatible completion
// endpoint. It carries provider extensions (top_k, enable_thinking) that the
// stock openai request type does not have.
type CompletionRequest struct {
	Model            string                         `json:"model"`
	Messages         []openai.ChatCompletionMessage `json:"messages"`
	Stream           bool                           `json:"stream"`
	MaxTokens        int                            `json:"max_tokens"`
	EnableThinking   bool                           `json:"enable_thinking"`
	Temperature      float32                        `json:"temperature"`
	TopP             float32                        `json:"top_p"`
	TopK             int                            `json:"top_k"`
	FrequencyPenalty float32                        `json:"frequency_penalty"`
	N                int                            `json:"n"`
}

// CompletionClient defines the contract for the upstream completion API.
type CompletionClient interface {
	// StreamCompletion starts a streamed completion and returns the raw
	// event-stream body. The caller must close it.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)

	// Complete runs a non-streamed completion.
	Complete(ctx context.Context, req *CompletionRequest) (*openai.ChatCompletionResponse, error)
}

// httpCompletionClient talks to the completion endpoint over the shared upstream transport.
type httpCompletionClient struct {
	upstream *upstream.Client
	url      string
}

// NewHTTPCompletionClient is the constructor for the real completion client.
func NewHTTPCompletionClient(up *upstream.Client, url string) CompletionClient {
	return &httpCompletionClient{
		upstream: up,
		url:      url,
	}
}

func (c *httpCompletionClient) StreamCompletion(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal completion request: %w", err)
	}

	resp, err := c.upstream.PostJSON(ctx, c.url, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *httpCompletionClient) Complete(ctx context.Context, req *CompletionRequest) (*openai.ChatCompletionResponse, error) {
	req.Stream = false
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal completion request: %w", err)
	}

	resp, err := c.upstream.PostJSON(ctx, c.url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read completion response: %w", err)
	}

	var out openai.ChatCompletionResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("could not decode completion response: %w", err)
	}
	return &out, nil
}
