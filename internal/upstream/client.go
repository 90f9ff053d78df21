// Package upstream is the transport shared by the chat relay and the
// speech-synthesis driver: bearer-authenticated HTTPS requests and WebSocket
// dials. It carries no business logic.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 4 << 10

// Options tunes the transport.
type Options struct {
	// ResponseHeaderTimeout bounds the wait for response headers on POST.
	// The body itself is bounded by the caller's context so that long
	// streams are not cut off.
	ResponseHeaderTimeout time.Duration
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration
	// InsecureSkipVerify disables TLS certificate validation.
	InsecureSkipVerify bool
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Client issues authenticated requests to one upstream service.
type Client struct {
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a client that authenticates every call with the bearer token.
func New(token string, opts Options) *Client {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.ResponseHeaderTimeout = opts.ResponseHeaderTimeout

	return &Client{
		token:      token,
		httpClient: &http.Client{Transport: transport},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
	}
}

func (c *Client) authHeader() string {
	return "Bearer " + c.token
}

// PostJSON sends body to url and returns the response once a 2xx status has
// been received. The caller owns and must close the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create upstream request: %w", err)
	}
	req.Header.Set(headerAuthorization, c.authHeader())
	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return resp, nil
}

// Dial opens a WebSocket connection to url.
func (c *Client) Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(headerAuthorization, c.authHeader())

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, fmt.Errorf("websocket dial failed: %v: %w", err, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)})
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}
