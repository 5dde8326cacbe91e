package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport under a Channel. *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens the transport for a room URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// dialWebSocket dials the given WebSocket URL and returns the connection.
func dialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return conn, nil
}

// RoomURL returns the room-scoped relay endpoint, e.g.
//
//	https://example.com  + "lobby"  ->  wss://example.com/ws/signaling/lobby/
//
// An encrypted base (https, wss) yields wss; anything else yields ws.
func RoomURL(base, room string) (string, error) {
	if room == "" {
		return "", errors.New("empty room name")
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", base)
	}

	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	path := strings.TrimSuffix(u.Path, "/") + "/ws/signaling/" + url.PathEscape(room) + "/"
	return scheme + "://" + u.Host + path, nil
}
