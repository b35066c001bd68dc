package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// WebSocket carries one envelope per text frame.
type WebSocket struct {
	conn         *websocket.Conn
	addr         string
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an upgraded connection. Frames larger than
// maxMessageSize bytes end the connection; zero disables the limit.
func NewWebSocket(conn *websocket.Conn, addr string, maxMessageSize int64) *WebSocket {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	if addr == "" {
		addr = conn.RemoteAddr().String()
	}
	// Deadlines left over from the HTTP request must not evict idle peers.
	_ = conn.SetReadDeadline(time.Time{})
	return &WebSocket{
		conn:         conn,
		addr:         addr,
		writeTimeout: DefaultWriteTimeout,
	}
}

// ReadEnvelope blocks for the next frame and decodes it.
func (w *WebSocket) ReadEnvelope() (protocol.Envelope, error) {
	messageType, data, err := w.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, normalizeReadError(err)
	}
	if messageType != websocket.TextMessage {
		return protocol.Envelope{}, fmt.Errorf("%w: unexpected frame type %d", protocol.ErrMalformed, messageType)
	}
	return protocol.Unmarshal(data)
}

// WriteEnvelope encodes env as a single text frame. Callers serialize writes.
func (w *WebSocket) WriteEnvelope(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame and closes the connection. It is safe
// to call concurrently with reads and writes and more than once.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, deadline)

		if err := w.conn.Close(); err != nil && !isExpectedCloseError(err) {
			w.closeErr = err
		}
	})
	return w.closeErr
}

// RemoteAddr returns the peer address.
func (w *WebSocket) RemoteAddr() string {
	return w.addr
}
