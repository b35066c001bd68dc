package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/testhelpers"
)

type countingConsole struct {
	started atomic.Int32
}

func (c *countingConsole) WriteLine(string) {}
func (c *countingConsole) ServerStarted() { c.started.Add(1) }

// startServer runs a server on ephemeral ports with both listeners enabled.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.RateLimit.Burst = 100

	srv := server.New(cfg, zerolog.Nop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func wsURL(srv *server.Server) string {
	return "ws://" + srv.HTTPAddr() + "/ws"
}

func httpURL(srv *server.Server, path string) string {
	return "http://" + srv.HTTPAddr() + path
}

// TestCrossTransportConversation drives one client over WebSocket and one
// over TCP through a full conversation.
func TestCrossTransportConversation(t *testing.T) {
	srv := startServer(t)

	ana := testhelpers.DialWebSocket(t, wsURL(srv))
	anaID, peers := ana.Connect("ana")
	if anaID != "1 - ana" || len(peers) != 0 {
		t.Fatalf("Unexpected welcome %q %v", anaID, peers)
	}

	bob := testhelpers.DialTCP(t, srv.TCPAddr())
	bobID, peers := bob.Connect("bob")
	if bobID != "2 - bob" || len(peers) != 1 || peers[0] != anaID {
		t.Fatalf("Unexpected welcome %q %v", bobID, peers)
	}
	if got := ana.Expect(protocol.KindNewUserOnline).Field(0); got != bobID {
		t.Errorf("Expected NEW_USER_ONLINE for %q, got %q", bobID, got)
	}

	ana.Send(protocol.KindMessage, anaID, bobID, "hello bob", "1700000000000")
	msg := bob.Expect(protocol.KindMessage)
	want := []string{anaID, bobID, "hello bob", "1700000000000"}
	if got := msg.Fields(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Expected %v, got %v", want, got)
	}
	ana.ExpectNothing(100 * time.Millisecond)

	bob.Send(protocol.KindPing)
	bob.Expect(protocol.KindPong)

	bob.Send(protocol.KindDisconnectRequest)
	bob.ExpectClosed()
	if got := ana.Expect(protocol.KindUserOffline).Field(0); got != bobID {
		t.Errorf("Expected USER_OFFLINE for %q, got %q", bobID, got)
	}
}

// TestOfflineDeliveryOnConnect verifies queued messages arrive right after
// CONNECTION_ACCEPTED.
func TestOfflineDeliveryOnConnect(t *testing.T) {
	srv := startServer(t)

	ana := testhelpers.DialTCP(t, srv.TCPAddr())
	anaID, _ := ana.Connect("ana")

	ana.Send(protocol.KindMessage, anaID, "2 - carl", "first", "1")
	ana.Send(protocol.KindMessage, anaID, "2 - carl", "second", "2")
	for _, body := range []string{"first", "second"} {
		nd := ana.Expect(protocol.KindMessageNotDelivered)
		if nd.Field(0) != "2 - carl" || nd.Field(1) != body {
			t.Errorf("Unexpected MESSAGE_NOT_DELIVERED %v", nd)
		}
	}

	carl := testhelpers.DialWebSocket(t, wsURL(srv))
	carlID, peers := carl.Connect("carl")
	if carlID != "2 - carl" || len(peers) != 1 {
		t.Fatalf("Unexpected welcome %q %v", carlID, peers)
	}
	for _, body := range []string{"first", "second"} {
		msg := carl.Expect(protocol.KindMessage)
		if msg.Field(0) != anaID || msg.Field(2) != body {
			t.Errorf("Expected backlog message %q, got %v", body, msg)
		}
	}
	ana.Expect(protocol.KindNewUserOnline)

	stats := srv.Relay().Stats()
	if stats.PendingMessages != 0 || stats.Online != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

// TestHandshakeViolationClosesConnection verifies a first envelope other
// than CONNECT_REQUEST ends the session without registering it.
func TestHandshakeViolationClosesConnection(t *testing.T) {
	srv := startServer(t)

	c := testhelpers.DialTCP(t, srv.TCPAddr())
	c.Send(protocol.KindPing)
	c.ExpectClosed()

	if n := srv.Relay().Stats().Online; n != 0 {
		t.Errorf("Expected no registered clients, got %d", n)
	}
}

// TestStatsEndpoint verifies /stats reports relay counters as JSON.
func TestStatsEndpoint(t *testing.T) {
	srv := startServer(t)

	ana := testhelpers.DialWebSocket(t, wsURL(srv))
	anaID, _ := ana.Connect("ana")
	ana.Send(protocol.KindMessage, anaID, "9 - ghost", "boo")
	ana.Expect(protocol.KindMessageNotDelivered)
	ana.Send(protocol.KindAddContact, anaID, "9 - ghost")
	ana.Expect(protocol.KindContactAdded)

	resp := testhelpers.MakeRequest(t, http.MethodGet, httpURL(srv, "/stats"))
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var stats relay.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if stats.Online != 1 || stats.PendingRecipients != 1 || stats.PendingMessages != 1 || stats.ContactOwners != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if len(stats.Sessions) != 1 || stats.Sessions[0].Identity != anaID || !stats.Sessions[0].Active {
		t.Errorf("Unexpected sessions %+v", stats.Sessions)
	}
}

// TestHTTPEndpoints verifies the health, test page and method checks.
func TestHTTPEndpoints(t *testing.T) {
	srv := startServer(t)

	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"health", http.MethodGet, "/", http.StatusOK, "text/plain", "GoRelay server is running!"},
		{"test page", http.MethodGet, "/test", http.StatusOK, "text/html", "CONNECT_REQUEST"},
		{"websocket post", http.MethodPost, "/ws", http.StatusMethodNotAllowed, "", ""},
		{"stats post", http.MethodPost, "/stats", http.StatusMethodNotAllowed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, tt.method, httpURL(srv, tt.path))
			defer func() { _ = resp.Body.Close() }()

			testhelpers.AssertStatusCode(t, resp, tt.status)
			if tt.contentType != "" {
				testhelpers.AssertContentType(t, resp, tt.contentType)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("Expected body to contain %q", tt.contains)
			}
		})
	}
}

// TestDisallowedOriginRejected verifies the upgrade is refused for unknown origins.
func TestDisallowedOriginRejected(t *testing.T) {
	srv := startServer(t)

	conn, resp, err := testhelpers.ConnectWebSocket(wsURL(srv), "http://evil.example")
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected the upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 response, got %v", resp)
	}
}

// TestShutdownNotifiesClients verifies registered clients are told about the
// shutdown and disconnected, and the listeners are released.
func TestShutdownNotifiesClients(t *testing.T) {
	console := &countingConsole{}
	cfg := server.NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.TCPAddr = "127.0.0.1:0"
	srv := server.New(cfg, zerolog.Nop(), console)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if console.started.Load() != 1 {
		t.Errorf("Expected console to be told once, got %d", console.started.Load())
	}
	if err := srv.Start(); !errors.Is(err, server.ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	ws := testhelpers.DialWebSocket(t, wsURL(srv))
	ws.Connect("ana")
	tcp := testhelpers.DialTCP(t, srv.TCPAddr())
	tcp.Connect("bob")
	ws.Expect(protocol.KindNewUserOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	ws.Expect(protocol.KindServerShuttingDown)
	ws.ExpectClosed()
	tcp.Expect(protocol.KindServerShuttingDown)
	tcp.ExpectClosed()

	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(httpURL(srv, "/")); err == nil {
		_ = resp.Body.Close()
		t.Error("Expected HTTP listener to be closed")
	}
}
