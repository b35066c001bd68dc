// Package server constructs the relay's HTTP and TCP listeners with helpers
// that apply sensible production defaults.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/transport"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) serveHTTP(ln net.Listener) {
	defer s.wg.Done()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("HTTP server stopped")
	}
}

// acceptTCP runs newline-delimited JSON sessions until ln is closed.
func (s *Server) acceptTCP(ln net.Listener) {
	defer s.wg.Done()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener accepting connections")
	backoff := 5 * time.Millisecond
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("TCP accept failed")
			time.Sleep(backoff)
			if backoff < time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 5 * time.Millisecond

		t := transport.NewStream(conn, int(s.cfg.MaxMessageSize))
		go func() {
			if err := s.relay.Serve(t); err != nil && !errors.Is(err, relay.ErrRelayClosed) {
				s.log.Debug().Err(err).Str("remote", t.RemoteAddr()).Msg("TCP session ended")
			}
		}()
	}
}
