// Package testhelpers provides common utilities for testing the relay server.
//
// It offers HTTP request and assertion helpers plus a protocol Client that
// speaks envelopes over either a WebSocket or a raw TCP connection, so the
// same scenario can be driven through both transports.
package testhelpers

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// DefaultTimeout bounds how long Expect waits for an envelope.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the given Origin header, or TestOrigin when origin is empty. The HTTP
// response is returned so callers can inspect rejected upgrades.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	if origin == "" {
		origin = TestOrigin
	}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Client drives one relay connection from the client side.
type Client struct {
	t      *testing.T
	write  func([]byte) error
	closer io.Closer
	frames chan []byte
	err    error // set before frames is closed
}

func newClient(t *testing.T, write func([]byte) error, read func() ([]byte, error), closer io.Closer) *Client {
	c := &Client{
		t:      t,
		write:  write,
		closer: closer,
		frames: make(chan []byte, 64),
	}
	go func() {
		defer close(c.frames)
		for {
			data, err := read()
			if err != nil {
				c.err = err
				return
			}
			c.frames <- data
		}
	}()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// DialWebSocket connects a Client to a /ws endpoint.
func DialWebSocket(t *testing.T, url string) *Client {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, "")
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	write := func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	read := func() ([]byte, error) {
		_, data, err := conn.ReadMessage()
		return data, err
	}
	return newClient(t, write, read, conn)
}

// DialTCP connects a Client to the newline-delimited JSON listener.
func DialTCP(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	reader := bufio.NewReader(conn)
	write := func(data []byte) error {
		_, err := conn.Write(append(data, '\n'))
		return err
	}
	read := func() ([]byte, error) {
		for {
			line, err := reader.ReadBytes('\n')
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				return line, nil
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return newClient(t, write, read, conn)
}

// Send encodes and writes one envelope, failing the test on error.
func (c *Client) Send(kind protocol.Kind, fields ...string) {
	c.t.Helper()
	data, err := protocol.Marshal(protocol.New(kind, fields...))
	if err != nil {
		c.t.Fatalf("Failed to encode %s: %v", kind, err)
	}
	if err := c.write(data); err != nil {
		c.t.Fatalf("Failed to send %s: %v", kind, err)
	}
}

// SendRaw writes data as a single frame or line.
func (c *Client) SendRaw(data string) error {
	return c.write([]byte(data))
}

// Next waits up to timeout for the next envelope.
func (c *Client) Next(timeout time.Duration) (protocol.Envelope, error) {
	select {
	case data, ok := <-c.frames:
		if !ok {
			return protocol.Envelope{}, c.err
		}
		return protocol.Unmarshal(data)
	case <-time.After(timeout):
		return protocol.Envelope{}, fmt.Errorf("no envelope within %v", timeout)
	}
}

// Expect waits for the next envelope and fails the test unless it has the
// given kind.
func (c *Client) Expect(kind protocol.Kind) protocol.Envelope {
	c.t.Helper()
	env, err := c.Next(DefaultTimeout)
	if err != nil {
		c.t.Fatalf("Waiting for %s: %v", kind, err)
	}
	if env.Kind() != kind {
		c.t.Fatalf("Expected %s, got %v", kind, env)
	}
	return env
}

// ExpectNothing fails the test if an envelope arrives within d.
func (c *Client) ExpectNothing(d time.Duration) {
	c.t.Helper()
	select {
	case data, ok := <-c.frames:
		if ok {
			c.t.Fatalf("Expected no envelope, got %s", data)
		}
	case <-time.After(d):
	}
}

// ExpectClosed waits for the server to end the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case data, ok := <-c.frames:
			if !ok {
				return
			}
			c.t.Logf("Discarding %s while waiting for close", data)
		case <-deadline:
			c.t.Fatal("Connection was not closed by the server")
		}
	}
}

// Connect performs the handshake and returns the assigned identity and the
// peers listed in CONNECTION_ACCEPTED.
func (c *Client) Connect(nickname string) (string, []string) {
	c.t.Helper()
	c.Send(protocol.KindConnectRequest, nickname)
	env := c.Expect(protocol.KindConnectionAccepted)
	fields := env.Fields()
	return fields[0], fields[1:]
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	err := c.closer.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
