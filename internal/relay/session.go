package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// ErrSessionClosed is returned when sending to a terminated session.
var ErrSessionClosed = errors.New("relay: session closed")

// Transport carries decoded envelopes for one connection. Implementations
// must allow Close to be called concurrently with reads and writes, and
// more than once. A cleanly closed peer is reported as io.EOF; a frame that
// is not a valid envelope is reported with protocol.ErrMalformed.
type Transport interface {
	ReadEnvelope() (protocol.Envelope, error)
	WriteEnvelope(env protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// State is a session's position in its lifecycle.
type State int32

// Session lifecycle states.
const (
	StateConnecting State = iota
	StateAwaitingHandshake
	StateRegistered
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateRegistered:
		return "registered"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// PresenceState is a user's advertised status. Any string is allowed; the
// constants are the ones clients are expected to use.
type PresenceState string

// Well-known presence states.
const (
	StatusOnline  PresenceState = "online"
	StatusBusy    PresenceState = "busy"
	StatusOffline PresenceState = "offline"
)

// Session is the server side of one client connection. Its read loop runs
// on a single goroutine; Send may be called from any goroutine.
type Session struct {
	id          string
	transport   Transport
	relay       *Relay
	limiter     *rate.Limiter
	connectedAt time.Time
	log         atomic.Pointer[zerolog.Logger]

	// writeMu serializes outbound envelopes.
	writeMu sync.Mutex

	mu       sync.RWMutex
	identity string
	status   PresenceState

	state        atomic.Int32
	listening    atomic.Bool
	lastActivity atomic.Int64
	closeOnce    sync.Once
}

func newSession(r *Relay, t Transport) *Session {
	now := time.Now()
	s := &Session{
		id:          uuid.NewString(),
		transport:   t,
		relay:       r,
		limiter:     r.rateLimit.newLimiter(),
		connectedAt: now,
		status:      StatusOnline,
	}
	s.lastActivity.Store(now.UnixNano())

	logger := r.log.With().
		Str("conn_id", s.id).
		Str("remote_addr", t.RemoteAddr()).
		Logger()
	s.log.Store(&logger)
	return s
}

// ID returns the connection id assigned when the transport was accepted.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the identity assigned at handshake, or "" before it.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Status returns the session's presence state.
func (s *Session) Status() PresenceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastActivity returns when the session last received an envelope.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the peer address of the transport.
func (s *Session) RemoteAddr() string {
	return s.transport.RemoteAddr()
}

func (s *Session) logger() *zerolog.Logger {
	return s.log.Load()
}

// setIdentity finalizes the identity. Later calls are ignored.
func (s *Session) setIdentity(identity string) {
	s.mu.Lock()
	if s.identity != "" {
		s.mu.Unlock()
		return
	}
	s.identity = identity
	s.mu.Unlock()

	logger := s.logger().With().Str("identity", identity).Logger()
	s.log.Store(&logger)
}

func (s *Session) setStatus(status PresenceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// terminate moves the session to Terminated and returns the state it left.
// Only the first caller sees a state other than StateTerminated.
func (s *Session) terminate() State {
	s.listening.Store(false)
	return State(s.state.Swap(int32(StateTerminated)))
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Send writes env to the client. Writes from different goroutines never
// interleave. A failed write stops the read loop and closes the transport,
// but leaves registry removal to the session's own teardown.
func (s *Session) Send(env protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sendLocked(env)
}

func (s *Session) sendLocked(env protocol.Envelope) error {
	if s.State() == StateTerminated {
		return ErrSessionClosed
	}
	if err := s.transport.WriteEnvelope(env); err != nil {
		s.listening.Store(false)
		s.logger().Warn().Err(err).Str("kind", env.Kind().String()).Msg("Error sending envelope; stopping session")
		s.closeTransport()
		return fmt.Errorf("relay: send %s: %w", env.Kind(), err)
	}
	return nil
}

func (s *Session) reply(p protocol.Payload) {
	_ = s.Send(protocol.Encode(p))
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil && !isClosedError(err) {
			s.logger().Debug().Err(err).Msg("Error closing transport")
		}
	})
}

// run drives the session from handshake to teardown.
func (s *Session) run() {
	if !s.transition(StateConnecting, StateAwaitingHandshake) {
		return
	}

	nickname, err := s.awaitHandshake()
	if err != nil {
		s.logger().Warn().Err(err).Msg("Handshake failed; closing connection")
		s.relay.Disconnect(s)
		return
	}

	s.listening.Store(true)
	defer s.relay.Disconnect(s)

	if err := s.relay.RegisterAndWelcome(s, nickname); err != nil {
		s.logger().Warn().Err(err).Msg("Registration failed")
		return
	}

	s.readLoop()
}

var errHandshake = errors.New("relay: protocol violation")

func (s *Session) awaitHandshake() (string, error) {
	env, err := s.transport.ReadEnvelope()
	if err != nil {
		return "", fmt.Errorf("reading handshake: %w", err)
	}
	s.touch()

	if env.Kind() != protocol.KindConnectRequest {
		return "", fmt.Errorf("%w: first envelope is %s, want %s", errHandshake, env.Kind(), protocol.KindConnectRequest)
	}
	p, err := env.Decode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errHandshake, err)
	}
	return p.(protocol.ConnectRequest).Nickname, nil
}

func (s *Session) readLoop() {
	for s.listening.Load() {
		env, err := s.transport.ReadEnvelope()
		if err != nil {
			if s.handleReadError(err) {
				return
			}
			continue
		}

		s.touch()

		if !s.allow(env) {
			continue
		}

		if !s.dispatch(env) {
			return
		}
	}
}

// allow applies the rate limit to env. PING and DISCONNECT_REQUEST are never
// throttled. A throttled MESSAGE is answered with MESSAGE_NOT_DELIVERED so
// the sender learns it was dropped.
func (s *Session) allow(env protocol.Envelope) bool {
	if s.limiter == nil {
		return true
	}
	switch env.Kind() {
	case protocol.KindPing, protocol.KindDisconnectRequest:
		return true
	}
	if s.limiter.Allow() {
		return true
	}

	s.logger().Warn().Str("kind", env.Kind().String()).Msg("Rate limit exceeded; discarding envelope")
	if env.Kind() == protocol.KindMessage {
		if p, err := env.Decode(); err == nil {
			m := p.(protocol.Message)
			s.reply(protocol.MessageNotDelivered{Recipient: m.Recipient, Body: m.Body})
		}
	}
	return false
}

// handleReadError logs a read failure and reports whether the loop should
// stop.
func (s *Session) handleReadError(err error) bool {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		s.logger().Warn().Err(err).Msg("Ignoring malformed envelope")
		return false
	case !s.listening.Load() || s.State() == StateTerminated:
		return true
	case isClosedError(err):
		s.logger().Info().Msg("Client connection closed")
		return true
	default:
		s.logger().Warn().Err(err).Msg("Read error; closing session")
		return true
	}
}

// dispatch routes one envelope and reports whether the loop should go on.
func (s *Session) dispatch(env protocol.Envelope) bool {
	if env.Kind().Known() && !env.Kind().FromClient() {
		s.logger().Warn().Str("kind", env.Kind().String()).Msg("Ignoring server-only command")
		return true
	}

	payload, err := env.Decode()
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			s.logger().Warn().Str("kind", env.Kind().String()).Msg("Unrecognized command")
		} else {
			s.logger().Warn().Err(err).Msg("Ignoring malformed envelope")
		}
		return true
	}

	switch p := payload.(type) {
	case protocol.Message:
		s.logger().Info().Str("from", p.Sender).Str("to", p.Recipient).Msg("Message received")
		if !s.relay.Deliver(p.Sender, p.Recipient, p.Body, p.Timestamp) {
			s.reply(protocol.MessageNotDelivered{Recipient: p.Recipient, Body: p.Body})
		}
	case protocol.AddContact:
		online := s.relay.AddContact(p.User, p.Contact)
		s.reply(protocol.ContactAdded{Contact: p.Contact, Online: online})
	case protocol.RequestOnlineUsers:
		s.reply(protocol.OnlineUsers{Identities: s.relay.OnlineUsers()})
	case protocol.ChangeStatus:
		s.relay.ChangeStatus(s, PresenceState(p.Status))
	case protocol.Ping:
		s.reply(protocol.Pong{})
	case protocol.DisconnectRequest:
		s.relay.Disconnect(s)
		return false
	case protocol.ConnectRequest:
		s.logger().Warn().Msg("Ignoring repeated handshake")
	default:
		s.logger().Warn().Str("kind", env.Kind().String()).Msg("Unrecognized command")
	}
	return true
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
