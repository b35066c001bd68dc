package relay

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

var errWriteFailed = errors.New("write failed")

// fakeTransport is an in-memory Transport. Tests act as the client through
// the in and out channels.
type fakeTransport struct {
	addr       string
	in         chan protocol.Envelope
	inErr      chan error
	out        chan protocol.Envelope
	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
	failWrites atomic.Bool
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		addr:   addr,
		in:     make(chan protocol.Envelope, 16),
		inErr:  make(chan error, 1),
		out:    make(chan protocol.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadEnvelope() (protocol.Envelope, error) {
	select {
	case env := <-f.in:
		return env, nil
	case err := <-f.inErr:
		return protocol.Envelope{}, err
	case <-f.closed:
		return protocol.Envelope{}, io.EOF
	}
}

func (f *fakeTransport) WriteEnvelope(env protocol.Envelope) error {
	if f.failWrites.Load() {
		return errWriteFailed
	}
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case f.out <- env:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *fakeTransport) Close() error {
	f.closeCount.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string {
	return f.addr
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeClient drives one served session from the client side.
type fakeClient struct {
	t        *testing.T
	tr       *fakeTransport
	identity string
	done     chan struct{}
}

func serve(t *testing.T, r *Relay) *fakeClient {
	t.Helper()
	tr := newFakeTransport("127.0.0.1:0")
	c := &fakeClient{t: t, tr: tr, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_ = r.Serve(tr)
	}()
	return c
}

// connect serves a new session and completes the handshake.
func connect(t *testing.T, r *Relay, nickname string) *fakeClient {
	t.Helper()
	c := serve(t, r)
	c.send(protocol.ConnectRequest{Nickname: nickname})
	env := c.expect(protocol.KindConnectionAccepted)
	c.identity = env.Field(0)
	return c
}

func (c *fakeClient) send(p protocol.Payload) {
	c.tr.in <- protocol.Encode(p)
}

func (c *fakeClient) sendRaw(env protocol.Envelope) {
	c.tr.in <- env
}

func (c *fakeClient) next(timeout time.Duration) (protocol.Envelope, bool) {
	select {
	case env := <-c.tr.out:
		return env, true
	case <-time.After(timeout):
		return protocol.Envelope{}, false
	}
}

func (c *fakeClient) expect(kind protocol.Kind) protocol.Envelope {
	c.t.Helper()
	env, ok := c.next(2 * time.Second)
	if !ok {
		c.t.Fatalf("Timed out waiting for %s", kind)
	}
	if env.Kind() != kind {
		c.t.Fatalf("Expected %s, got %v", kind, env)
	}
	return env
}

func (c *fakeClient) expectNothing(d time.Duration) {
	c.t.Helper()
	if env, ok := c.next(d); ok {
		c.t.Fatalf("Expected no envelope, got %v", env)
	}
}

func (c *fakeClient) waitDone() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		c.t.Fatal("Session did not terminate")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// syncBuffer collects log output written from session goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
