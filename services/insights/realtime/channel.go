// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime implements the push-notification channel: an explicit
// connection state machine over a pluggable transport, with heartbeats
// while connected and bounded automatic reconnection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianInsights/services/insights/datatypes"
	"github.com/AleutianAI/AleutianInsights/services/insights/observability"
)

// =============================================================================
// Status
// =============================================================================

// Status is the channel's connection state.
//
// Transitions:
//
//	disconnected → connecting       (Connect, or a scheduled reconnect)
//	connecting   → connected        (dial succeeded)
//	connecting   → disconnected     (dial failed, retry scheduled)
//	connected    → disconnected     (connection lost or Disconnect)
//	disconnected → error            (reconnect attempts exhausted)
//	error        → connecting       (explicit Connect only)
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

func (s Status) gaugeValue() float64 {
	switch s {
	case StatusConnecting:
		return 1
	case StatusConnected:
		return 2
	case StatusError:
		return 3
	default:
		return 0
	}
}

// Sentinel errors for channel operations.
var (
	// ErrNotConnected is returned by SendMessage outside the connected state.
	ErrNotConnected = errors.New("realtime channel is not connected")

	// ErrChannelClosed is returned after Close().
	ErrChannelClosed = errors.New("realtime channel is closed")
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the channel settings.
type Config struct {
	// URL is the realtime endpoint to dial. Required.
	URL string

	// HeartbeatInterval paces keepalive probes while connected.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	// Default: 2 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive automatic reconnects before
	// the channel settles in the error state. Default: 5.
	MaxReconnectAttempts int
}

// DefaultConfig returns production channel defaults for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		HeartbeatInterval:    30 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Handler consumes one dispatched realtime message. Handlers run on the
// channel's read goroutine; long work should be handed off.
type Handler func(msg datatypes.RealtimeMessage)

// =============================================================================
// Channel
// =============================================================================

// session ties one established connection to the goroutines serving it.
// A lost connection cancels its session; a new connection gets a new one,
// so stale goroutines can never act on a successor's state.
type session struct {
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Channel is the realtime push channel.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Channel struct {
	config    Config
	transport Transport

	mu             sync.Mutex
	status         Status
	current        *session
	attempts       int
	reconnectTimer *time.Timer
	handlers       map[datatypes.RealtimeMessageType][]Handler
	closed         bool

	wg sync.WaitGroup
}

// NewChannel creates a channel. It stays disconnected until Connect.
//
// # Outputs
//
//   - *Channel: Ready for Subscribe and Connect.
//   - error: Non-nil if the URL is empty or the transport is nil.
func NewChannel(config Config, transport Transport) (*Channel, error) {
	if config.URL == "" {
		return nil, errors.New("realtime URL must not be empty")
	}
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	defaults := DefaultConfig(config.URL)
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	return &Channel{
		config:    config,
		transport: transport,
		status:    StatusDisconnected,
		handlers:  make(map[datatypes.RealtimeMessageType][]Handler),
	}, nil
}

// Subscribe registers a handler for one message type. Handlers registered
// for the same type run in registration order.
func (c *Channel) Subscribe(msgType datatypes.RealtimeMessageType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReconnectAttempts returns the count of consecutive automatic reconnects
// since the last stable connection.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// =============================================================================
// Connect / Disconnect
// =============================================================================

// Connect dials the endpoint and, on success, starts the read and
// heartbeat loops.
//
// # Description
//
// Callable from the disconnected and error states; an explicit Connect
// from the error state resets the reconnect budget. Calls while already
// connecting or connected are no-ops. A failed dial schedules an automatic
// retry and returns the dial error.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	switch c.status {
	case StatusConnected, StatusConnecting:
		c.mu.Unlock()
		return nil
	case StatusError:
		// Manual recovery from the terminal reconnect state.
		c.attempts = 0
	}
	c.stopReconnectTimerLocked()
	c.setStatusLocked(StatusConnecting)
	url := c.config.URL
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != StatusConnecting {
		// Disconnect or Close raced the dial.
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		c.setStatusLocked(StatusDisconnected)
		slog.Warn("realtime dial failed", "url", url, "error", err)
		c.scheduleReconnectLocked()
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{conn: conn, ctx: sessCtx, cancel: cancel}
	c.current = sess
	c.attempts = 0
	c.setStatusLocked(StatusConnected)
	slog.Info("realtime channel connected", "url", url)

	c.wg.Add(2)
	go c.readLoop(sess)
	go c.heartbeatLoop(sess)
	return nil
}

// Disconnect tears down the connection intentionally: the pending
// reconnect timer (if any) is cancelled, no new reconnect is scheduled,
// and the reconnect budget resets.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopReconnectTimerLocked()
	c.attempts = 0
	c.teardownSessionLocked()
	if c.status != StatusDisconnected {
		c.setStatusLocked(StatusDisconnected)
		slog.Info("realtime channel disconnected")
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Reconnect forces a fresh connection: tear down whatever exists, reset
// the reconnect budget, and schedule a new dial after the configured
// reconnect delay. The pending dial is cancellable through Disconnect or
// Close.
func (c *Channel) Reconnect() {
	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		slog.Info("manual reconnect dialing")
		// Failures are logged and feed into the automatic schedule.
		_ = c.Connect(context.Background())
	})
}

// Close disconnects and permanently shuts the channel down.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

// teardownSessionLocked cancels and closes the active session, if any.
// Caller holds c.mu.
func (c *Channel) teardownSessionLocked() {
	if c.current == nil {
		return
	}
	c.current.cancel()
	c.current.conn.Close()
	c.current = nil
}

func (c *Channel) setStatusLocked(s Status) {
	c.status = s
	observability.SetRealtimeConnectionStatus(s.gaugeValue())
}

func (c *Channel) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// scheduleReconnectLocked arms the reconnect timer, or settles into the
// error state once the budget is exhausted. Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	if c.attempts >= c.config.MaxReconnectAttempts {
		c.setStatusLocked(StatusError)
		slog.Error("realtime reconnect attempts exhausted",
			"attempts", c.attempts,
			"max", c.config.MaxReconnectAttempts,
		)
		return
	}
	c.attempts++
	observability.CountRealtimeReconnect()
	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		slog.Info("realtime reconnect attempt",
			"attempt", attempt,
			"max", c.config.MaxReconnectAttempts,
		)
		// Errors here are already logged and feed back into the
		// schedule; nothing to return to.
		_ = c.Connect(context.Background())
	})
}

// connectionLost handles an unexpected failure on a live session. Stale
// sessions (already replaced or torn down) are ignored.
func (c *Channel) connectionLost(sess *session, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != sess {
		return
	}
	c.teardownSessionLocked()
	c.setStatusLocked(StatusDisconnected)
	slog.Warn("realtime connection lost", "error", cause)
	c.scheduleReconnectLocked()
}

// =============================================================================
// Read Loop and Dispatch
// =============================================================================

func (c *Channel) readLoop(sess *session) {
	defer c.wg.Done()
	for {
		data, err := sess.conn.ReadMessage()
		if err != nil {
			if sess.ctx.Err() != nil {
				// Intentional teardown.
				return
			}
			c.connectionLost(sess, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch parses one frame and fans it out to the type's handlers.
// Malformed frames and unknown types are logged and dropped; they never
// tear down the connection.
func (c *Channel) dispatch(data []byte) {
	msg, err := datatypes.ParseRealtimeMessage(data)
	if err != nil {
		observability.CountRealtimeParseError()
		slog.Warn("dropping unparseable realtime frame", "error", err)
		return
	}
	observability.CountRealtimeMessage(string(msg.Type))

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// =============================================================================
// Heartbeat
// =============================================================================

// heartbeatLoop sends keepalive probes while the session is live. The
// rate limiter paces one probe per interval; the loop exits the moment
// the session is cancelled, so no heartbeat is ever sent outside the
// connected state.
func (c *Channel) heartbeatLoop(sess *session) {
	defer c.wg.Done()

	limiter := rate.NewLimiter(rate.Every(c.config.HeartbeatInterval), 1)
	// Drain the initial token so the first probe waits a full interval.
	limiter.Allow()

	for {
		if err := limiter.Wait(sess.ctx); err != nil {
			return
		}
		if err := sess.conn.Ping(); err != nil {
			if sess.ctx.Err() == nil {
				c.connectionLost(sess, err)
			}
			return
		}
		observability.CountRealtimeHeartbeat()
	}
}

// =============================================================================
// Send
// =============================================================================

// SendMessage writes a message to the live connection.
//
// # Outputs
//
//   - error: ErrNotConnected outside the connected state, or the
//     transport write error (which also triggers reconnect handling).
func (c *Channel) SendMessage(msg datatypes.RealtimeMessage) error {
	c.mu.Lock()
	if c.status != StatusConnected || c.current == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sess := c.current
	c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := sess.conn.WriteMessage(data); err != nil {
		c.connectionLost(sess, err)
		return fmt.Errorf("write realtime message: %w", err)
	}
	return nil
}
