// Package transport adapts network connections to the relay's envelope
// transport: a WebSocket transport built on gorilla/websocket and a stream
// transport carrying one JSON envelope per line over any net.Conn.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single envelope write.
const DefaultWriteTimeout = 10 * time.Second

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// normalizeReadError maps the ways a peer can go away onto io.EOF and
// net.ErrClosed so callers can classify errors with errors.Is.
func normalizeReadError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return err
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return fmt.Errorf("%w: %v", io.EOF, err)
	case websocket.IsCloseError(err, websocket.CloseAbnormalClosure), isExpectedCloseError(err):
		return fmt.Errorf("%w: %v", net.ErrClosed, err)
	}
	return err
}
