// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Transport Abstraction
// =============================================================================

// Conn is a single established realtime connection.
//
// ReadMessage blocks until a frame arrives or the connection dies; the
// channel runs it on a dedicated goroutine. Close unblocks a pending read.
type Conn interface {
	// ReadMessage returns the next text frame.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a text frame.
	WriteMessage(data []byte) error

	// Ping sends a keepalive probe.
	Ping() error

	// Close tears the connection down.
	Close() error
}

// Transport establishes realtime connections. The production transport
// dials websockets; tests substitute an in-memory fake.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// =============================================================================
// WebSocket Transport
// =============================================================================

// WebSocketTransport implements Transport over gorilla/websocket.
type WebSocketTransport struct {
	// HandshakeTimeout bounds the dial handshake. Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write. Default: 10 seconds.
	WriteTimeout time.Duration

	// Header is sent with the handshake request; may be nil.
	Header http.Header
}

// NewWebSocketTransport creates a transport with default timeouts.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Dial performs the websocket handshake against url.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, url, t.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return &webSocketConn{ws: ws, writeTimeout: t.WriteTimeout}, nil
}

type webSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *webSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *webSocketConn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *webSocketConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *webSocketConn) Close() error {
	deadline := time.Now().Add(time.Second)
	// Best-effort close frame before dropping the TCP connection.
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
