package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default websocket timings.
const (
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = (DefaultPongWait * 9) / 10
	DefaultMaxFrame   = 8 << 20
)

// WebSocket is a Channel over a gorilla websocket connection. One
// goroutine reads frames into a buffered queue and another sends pings;
// writes are serialized.
type WebSocket struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	writeWait time.Duration

	incoming chan []byte
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once

	errMu   sync.Mutex
	readErr error
}

// NewWebSocket wraps an established connection and starts its read and
// ping loops.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		conn:      conn,
		writeWait: DefaultWriteWait,
		incoming:  make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	conn.SetReadLimit(DefaultMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(DefaultPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(DefaultPongWait))
	})
	go ws.readLoop()
	go ws.pingLoop()
	return ws
}

func (ws *WebSocket) readLoop() {
	defer close(ws.incoming)
	for {
		kind, data, err := ws.conn.ReadMessage()
		if err != nil {
			ws.errMu.Lock()
			ws.readErr = err
			ws.errMu.Unlock()
			_ = ws.Close()
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case ws.incoming <- data:
		case <-ws.done:
			return
		}
	}
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(DefaultPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.writeMu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeWait))
			ws.writeMu.Unlock()
			if err != nil {
				_ = ws.Close()
				return
			}
		case <-ws.done:
			return
		}
	}
}

// Send implements Channel.
func (ws *WebSocket) Send(ctx context.Context, frame []byte) error {
	if ws.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(ws.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive implements Channel.
func (ws *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-ws.incoming:
		if !ok {
			return nil, ws.closeErr()
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ws *WebSocket) closeErr() error {
	ws.errMu.Lock()
	defer ws.errMu.Unlock()
	if ws.readErr == nil || websocket.IsCloseError(ws.readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, ws.readErr)
}

// Close implements Channel.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		ws.closed.Store(true)
		close(ws.done)
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

// WebSocketDialer dials websocket endpoints.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

// Dial implements Dialer. HTTP 401/403 and 404 responses to the upgrade
// are reported as ErrUnauthorized and ErrNotFound.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("dial %s: %w", endpoint, ErrUnauthorized)
			case http.StatusNotFound:
				return nil, fmt.Errorf("dial %s: %w", endpoint, ErrNotFound)
			}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewWebSocket(conn), nil
}
