package tts

//go:generate mockgen -destination=./clients_mock_test.go -package=tts -source=clients.go Dialer

import (
	"context"

	"uki-gateway/internal/upstream"
)

// Conn is the duplex channel a session drives. *websocket.Conn satisfies it.
// Close may be called concurrently with a blocked ReadMessage.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a fresh channel to the synthesis service.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// wsDialer dials the synthesis endpoint over the shared upstream transport.
type wsDialer struct {
	upstream *upstream.Client
	url      string
}

// NewWSDialer is the constructor for the real dialer.
func NewWSDialer(up *upstream.Client, url string) Dialer {
	return &wsDialer{
		upstream: up,
		url:      url,
	}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.upstream.Dial(ctx, d.url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
