package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send while no connection is live.
var ErrNotConnected = errors.New("real-time channel not connected")

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

// Source is a bidirectional frame stream.
type Source interface {
	// Run connects and delivers inbound frames to handle until ctx is
	// cancelled or the connection drops. connected, if non-nil, is called once
	// the connection accepts Send and before the first frame is handled.
	// It always returns a non-nil error.
	Run(ctx context.Context, connected func(), handle func(frame []byte)) error
	// Send writes one outbound frame on the live connection.
	Send(ctx context.Context, frame []byte) error
}

// WSSource is a Source backed by a gorilla websocket client connection.
type WSSource struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	writeWait time.Duration
	pongWait  time.Duration
	logger    *zap.Logger

	// mu protects conn; writeMu serializes data frames
	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WSOption configures a WSSource.
type WSOption func(*WSSource)

// WithToken sends token as a bearer credential on the handshake.
func WithToken(token string) WSOption {
	return func(s *WSSource) {
		if token != "" {
			s.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithTimeouts overrides the write deadline and the pong wait.
// Pings are sent every 9/10 of pongWait.
func WithTimeouts(writeWait, pongWait time.Duration) WSOption {
	return func(s *WSSource) {
		if writeWait > 0 {
			s.writeWait = writeWait
		}
		if pongWait > 0 {
			s.pongWait = pongWait
		}
	}
}

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(logger *zap.Logger) WSOption {
	return func(s *WSSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewWSSource creates a source for the websocket endpoint at url.
//
// Parameters:
//   - url: websocket endpoint, e.g. ws://host/ws
//   - opts: handshake credentials, timeouts and logger
//
// Returns:
//   - *WSSource: an unconnected source; Run dials it
func NewWSSource(url string, opts ...WSOption) *WSSource {
	s := &WSSource{
		url:       url,
		header:    http.Header{},
		dialer:    websocket.DefaultDialer,
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "push.ws"))
	return s
}

// Run dials the endpoint and reads frames until ctx ends or the connection drops.
func (s *WSSource) Run(ctx context.Context, connected func(), handle func([]byte)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go s.pingPump(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	s.logger.Info("real-time channel connected", zap.String("url", s.url))
	if connected != nil {
		connected()
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("real-time channel closed unexpectedly", zap.Error(err))
			}
			return fmt.Errorf("read from %s: %w", s.url, err)
		}
		handle(frame)
	}
}

// pingPump 定时发送 ping，ctx 取消时关闭连接以解除 ReadMessage 阻塞
func (s *WSSource) pingPump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeWait))
			conn.Close()
			return
		case <-ticker.C:
			// WriteControl 可与其他写操作并发调用
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// Send writes frame on the live connection, or returns ErrNotConnected.
func (s *WSSource) Send(ctx context.Context, frame []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(s.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write to %s: %w", s.url, err)
	}
	return nil
}
