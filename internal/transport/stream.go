package transport

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Stream carries newline-delimited JSON envelopes over a byte stream.
type Stream struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps conn. Lines longer than maxMessageSize bytes end the
// connection; zero falls back to bufio's default limit.
func NewStream(conn net.Conn, maxMessageSize int) *Stream {
	scanner := bufio.NewScanner(conn)
	if maxMessageSize > 0 {
		initial := 4096
		if maxMessageSize < initial {
			initial = maxMessageSize
		}
		scanner.Buffer(make([]byte, 0, initial), maxMessageSize)
	}
	return &Stream{
		conn:         conn,
		scanner:      scanner,
		writeTimeout: DefaultWriteTimeout,
	}
}

// ReadEnvelope blocks for the next non-blank line and decodes it.
func (s *Stream) ReadEnvelope() (protocol.Envelope, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return protocol.Unmarshal(line)
	}
	if err := s.scanner.Err(); err != nil {
		return protocol.Envelope{}, normalizeReadError(err)
	}
	return protocol.Envelope{}, io.EOF
}

// WriteEnvelope writes env followed by a newline. Callers serialize writes.
func (s *Stream) WriteEnvelope(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return normalizeReadError(err)
	}
	_, err = s.conn.Write(append(data, '\n'))
	return err
}

// Close closes the underlying connection once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
