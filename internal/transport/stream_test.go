package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/relay"
)

var (
	_ relay.Transport = (*Stream)(nil)
	_ relay.Transport = (*WebSocket)(nil)
)

// TestStreamReadEnvelopes verifies line framing, blank line skipping and
// recovery after a malformed line.
func TestStreamReadEnvelopes(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := NewStream(server, 1024)
	defer s.Close()

	go func() {
		_, _ = io.WriteString(client, "{\"kind\":\"CONNECT_REQUEST\",\"fields\":[\"ana\"]}\n\n")
		_, _ = io.WriteString(client, "garbage\n")
		_, _ = io.WriteString(client, "{\"kind\":\"PING\",\"fields\":[]}\n")
		_ = client.Close()
	}()

	env, err := s.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope() error: %v", err)
	}
	if env.Kind() != protocol.KindConnectRequest || env.Field(0) != "ana" {
		t.Errorf("Unexpected envelope %v", env)
	}

	if _, err := s.ReadEnvelope(); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("Expected ErrMalformed, got %v", err)
	}

	env, err = s.ReadEnvelope()
	if err != nil || env.Kind() != protocol.KindPing {
		t.Errorf("Expected PING after malformed line, got %v, %v", env, err)
	}

	if _, err := s.ReadEnvelope(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

// TestStreamMessageTooLong verifies oversized lines end the connection.
func TestStreamMessageTooLong(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := NewStream(server, 64)
	defer s.Close()

	go func() {
		_, _ = io.WriteString(client, strings.Repeat("x", 200)+"\n")
	}()

	_, err := s.ReadEnvelope()
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Expected bufio.ErrTooLong, got %v", err)
	}
}

// TestStreamWriteEnvelope verifies one envelope is written per line.
func TestStreamWriteEnvelope(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := NewStream(server, 1024)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.WriteEnvelope(protocol.Encode(protocol.UserOffline{Identity: "2 - bob"}))
	}()

	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error: %v", err)
	}
	want := `{"kind":"USER_OFFLINE","fields":["2 - bob"]}` + "\n"
	if line != want {
		t.Errorf("Expected %q, got %q", want, line)
	}
	if err := <-errCh; err != nil {
		t.Errorf("WriteEnvelope() error: %v", err)
	}
}

// TestStreamCloseIdempotent verifies Close unblocks a pending read and can
// be called repeatedly.
func TestStreamCloseIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := NewStream(server, 1024)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.ReadEnvelope()
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close() error: %v", err)
	}

	select {
	case err := <-readErr:
		if err == nil {
			t.Error("Expected read to fail after close")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	if err := s.WriteEnvelope(protocol.Encode(protocol.Pong{})); err == nil {
		t.Error("Expected write after close to fail")
	}
}
