package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClient_PostJSON_SetsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ping":true}`, string(body))

		w.Write([]byte("pong"))
	}))
	defer server.Close()

	c := New(testToken, Options{ResponseHeaderTimeout: time.Second})
	resp, err := c.PostJSON(context.Background(), server.URL, []byte(`{"ping":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestClient_PostJSON_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(testToken, Options{})
	resp, err := c.PostJSON(context.Background(), server.URL, []byte(`{}`))
	require.Error(t, err)
	assert.Nil(t, resp)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "rate limited")
}

func TestClient_PostJSON_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := New(testToken, Options{})
	_, err := c.PostJSON(context.Background(), url, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream request failed")
}

func TestClient_Dial_SendsBearer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hi"))
	}))
	defer server.Close()

	c := New(testToken, Options{HandshakeTimeout: time.Second})
	conn, err := c.Dial(context.Background(), wsURL(server.URL))
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(msg))
}

func TestClient_Dial_RejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status_msg":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(testToken, Options{HandshakeTimeout: time.Second})
	_, err := c.Dial(context.Background(), wsURL(server.URL))
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, `{"status_msg":"invalid api key"}`)
	assert.NotContains(t, statusErr.Body, "bad handshake")
}

func TestClient_Dial_VerifiesCertificates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	url := wsURL(server.URL) // wss://

	strict := New(testToken, Options{HandshakeTimeout: time.Second})
	_, err := strict.Dial(context.Background(), url)
	require.Error(t, err, "self-signed certificate must be rejected by default")

	lax := New(testToken, Options{HandshakeTimeout: time.Second, InsecureSkipVerify: true})
	conn, err := lax.Dial(context.Background(), url)
	require.NoError(t, err)
	conn.Close()
}
