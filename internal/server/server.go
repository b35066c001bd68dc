package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/relay"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("server: already started")

// Server owns the relay and the listeners that feed it sessions.
type Server struct {
	cfg      Config
	relay    *relay.Relay
	log      zerolog.Logger
	console  logging.Console
	upgrader websocket.Upgrader

	httpServer *http.Server

	mu      sync.Mutex
	started bool
	httpLn  net.Listener
	tcpLn   net.Listener
	wg      sync.WaitGroup
}

// New builds a server from cfg. A nil console is replaced by a no-op one.
func New(cfg *Config, logger zerolog.Logger, console logging.Console) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if console == nil {
		console = logging.NopConsole{}
	}

	s := &Server{
		cfg:     sanitizeConfig(*cfg),
		log:     logger,
		console: console,
	}
	s.relay = relay.New(
		relay.WithLogger(logger),
		relay.WithRateLimit(s.cfg.relayRateLimit()),
	)

	origins := newOriginPolicy(s.cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	s.httpServer = CreateServer(s.cfg.Port, s.SetupRoutes())
	return s
}

// Relay returns the relay sessions are served on.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Start binds the HTTP listener and, when configured, the raw TCP listener,
// then serves both in the background. The console is told the server has
// started once every listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	httpLn, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Port, err)
	}

	var tcpLn net.Listener
	if s.cfg.TCPAddr != "" {
		tcpLn, err = net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.TCPAddr, err)
		}
	}

	s.started = true
	s.httpLn = httpLn
	s.tcpLn = tcpLn

	s.wg.Add(1)
	go s.serveHTTP(httpLn)
	if tcpLn != nil {
		s.wg.Add(1)
		go s.acceptTCP(tcpLn)
	}

	s.console.ServerStarted()
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// TCPAddr returns the bound TCP address, or "" when the listener is disabled.
func (s *Server) TCPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpLn == nil {
		return ""
	}
	return s.tcpLn.Addr().String()
}

// Shutdown announces the shutdown to every registered client, tears down all
// sessions and then releases the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down server...")

	relayErr := s.relay.Shutdown(ctx)

	s.mu.Lock()
	tcpLn := s.tcpLn
	s.mu.Unlock()
	if tcpLn != nil {
		_ = tcpLn.Close()
	}

	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		s.log.Error().Err(httpErr).Msg("HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(relayErr, httpErr, ctx.Err())
	}

	if err := errors.Join(relayErr, httpErr); err != nil {
		return err
	}
	s.log.Info().Msg("Server shutdown completed")
	return nil
}
