// Package relay implements the connection lifecycle and message routing
// engine: per-connection sessions, the shared registry of online clients,
// the offline mailbox and the contact book, all coordinated by Relay.
//
// Sessions never touch each other directly. Every cross-session effect
// (delivery, presence broadcast, teardown) goes through a Relay method.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// ErrRelayClosed is returned by Serve once Shutdown has started.
var ErrRelayClosed = errors.New("relay: shutting down")

// DefaultIdleThreshold is how long a session may go without sending
// anything before Sessions reports it as inactive.
const DefaultIdleThreshold = 5 * time.Minute

// Relay coordinates all sessions. It is the only component that touches
// the registry, the mailbox and the contact book.
type Relay struct {
	ids       *IdentityCounter
	registry  *Registry
	mailbox   *Mailbox
	contacts  *ContactBook
	log       zerolog.Logger
	rateLimit RateLimit
	idleAfter time.Duration

	mu      sync.Mutex
	conns   map[*Session]struct{}
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger used by the relay and its sessions.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Relay) { r.log = logger }
}

// WithIdentityCounter injects the counter used to build identities.
func WithIdentityCounter(c *IdentityCounter) Option {
	return func(r *Relay) { r.ids = c }
}

// WithRateLimit limits how many envelopes each session may send.
func WithRateLimit(rl RateLimit) Option {
	return func(r *Relay) { r.rateLimit = rl }
}

// WithIdleThreshold changes the inactivity threshold reported by Sessions.
func WithIdleThreshold(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.idleAfter = d
		}
	}
}

// New creates a Relay ready to serve connections.
func New(opts ...Option) *Relay {
	r := &Relay{
		ids:       NewIdentityCounter(),
		registry:  NewRegistry(),
		mailbox:   NewMailbox(),
		contacts:  NewContactBook(),
		log:       zerolog.Nop(),
		idleAfter: DefaultIdleThreshold,
		conns:     make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve runs a session over t until the connection ends. It blocks, so
// accept loops call it on a new goroutine per connection.
func (r *Relay) Serve(t Transport) error {
	s := newSession(r, t)
	if !r.track(s) {
		_ = t.Close()
		return ErrRelayClosed
	}
	defer r.untrack(s)

	s.logger().Info().Msg("Connection accepted")
	s.run()
	return nil
}

func (r *Relay) track(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.conns[s] = struct{}{}
	r.wg.Add(1)
	return true
}

func (r *Relay) untrack(s *Session) {
	r.mu.Lock()
	delete(r.conns, s)
	r.mu.Unlock()
	r.wg.Done()
}

// RegisterAndWelcome finalizes a session's identity, registers it, sends
// it CONNECTION_ACCEPTED with the other online identities followed by its
// queued offline messages, and then announces it to everyone else.
//
// The session's write lock is held from registration until the backlog is
// written, so a live message cannot overtake queued ones.
func (r *Relay) RegisterAndWelcome(s *Session, nickname string) error {
	identity := r.ids.Assign(nickname)

	s.writeMu.Lock()
	s.setIdentity(identity)
	if !r.registry.Add(s) {
		s.writeMu.Unlock()
		return fmt.Errorf("relay: identity %q already registered", identity)
	}
	// A teardown that ran before this transition saw no registered state
	// and left the entry in place.
	if !s.transition(StateAwaitingHandshake, StateRegistered) {
		r.registry.Remove(s)
		s.writeMu.Unlock()
		return ErrSessionClosed
	}

	peers := make([]string, 0)
	for _, id := range r.registry.SnapshotIdentities() {
		if id != identity {
			peers = append(peers, id)
		}
	}
	_ = s.sendLocked(protocol.Encode(protocol.ConnectionAccepted{Identity: identity, Peers: peers}))

	backlog := r.mailbox.Drain(identity)
	for _, m := range backlog {
		_ = s.sendLocked(protocol.Encode(protocol.Message{
			Sender:    m.Sender,
			Recipient: identity,
			Body:      m.Body,
			Timestamp: m.Timestamp,
		}))
	}
	s.writeMu.Unlock()

	logger := s.logger()
	logger.Info().Int("online", r.registry.Len()).Msg("Client registered")
	if len(backlog) > 0 {
		logger.Info().Int("count", len(backlog)).Msg("Delivered offline messages")
	}

	r.registry.Broadcast(protocol.Encode(protocol.NewUserOnline{Identity: identity}), s)
	return nil
}

// Deliver routes a message to recipient. It returns true if the recipient
// was online and false if the message was queued in the mailbox instead.
func (r *Relay) Deliver(sender, recipient, body, timestamp string) bool {
	if target := r.registry.Find(recipient); target != nil {
		_ = target.Send(protocol.Encode(protocol.Message{
			Sender:    sender,
			Recipient: recipient,
			Body:      body,
			Timestamp: timestamp,
		}))
		return true
	}

	r.mailbox.Store(recipient, sender, body, timestamp)
	r.log.Info().Str("from", sender).Str("to", recipient).Msg("Recipient offline; message queued")
	return false
}

// AddContact records contact in user's contact book and reports whether
// contact is currently online.
func (r *Relay) AddContact(user, contact string) bool {
	if r.contacts.Add(user, contact) {
		r.log.Info().Str("user", user).Str("contact", contact).Msg("Contact added")
	}
	return r.registry.Find(contact) != nil
}

// Contacts returns user's contacts.
func (r *Relay) Contacts(user string) []string {
	return r.contacts.Contacts(user)
}

// ChangeStatus updates the session's presence and tells every other
// session about it.
func (r *Relay) ChangeStatus(s *Session, status PresenceState) {
	s.setStatus(status)
	s.logger().Info().Str("status", string(status)).Msg("Status changed")
	r.registry.Broadcast(protocol.Encode(protocol.StatusChanged{
		Identity: s.Identity(),
		Status:   string(status),
	}), s)
}

// OnlineUsers returns every registered identity.
func (r *Relay) OnlineUsers() []string {
	return r.registry.SnapshotIdentities()
}

// Disconnect tears a session down: it leaves the registry, the remaining
// sessions are told it went offline, and its transport is closed. Only the
// first call for a session has any effect.
func (r *Relay) Disconnect(s *Session) {
	r.teardown(s, true)
}

func (r *Relay) teardown(s *Session, announce bool) {
	prev := s.terminate()
	if prev == StateTerminated {
		return
	}

	if prev == StateRegistered {
		r.registry.Remove(s)
		if announce {
			r.registry.Broadcast(protocol.Encode(protocol.UserOffline{Identity: s.Identity()}), s)
		}
		s.logger().Info().Int("online", r.registry.Len()).Msg("Client disconnected")
	}
	s.closeTransport()
}

// SessionInfo describes one live session for inspection.
type SessionInfo struct {
	ConnID       string    `json:"conn_id"`
	Identity     string    `json:"identity"`
	Status       string    `json:"status"`
	State        string    `json:"state"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// Sessions describes every registered session in registration order.
func (r *Relay) Sessions() []SessionInfo {
	now := time.Now()
	sessions := r.registry.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		last := s.LastActivity()
		out = append(out, SessionInfo{
			ConnID:       s.ID(),
			Identity:     s.Identity(),
			Status:       string(s.Status()),
			State:        s.State().String(),
			RemoteAddr:   s.RemoteAddr(),
			ConnectedAt:  s.connectedAt,
			LastActivity: last,
			Active:       now.Sub(last) < r.idleAfter,
		})
	}
	return out
}

// Stats summarizes the relay's shared state.
type Stats struct {
	Online            int           `json:"online"`
	PendingRecipients int           `json:"pending_recipients"`
	PendingMessages   int           `json:"pending_messages"`
	ContactOwners     int           `json:"contact_owners"`
	Sessions          []SessionInfo `json:"sessions"`
}

// Stats returns a snapshot of the relay's counters and sessions.
func (r *Relay) Stats() Stats {
	recipients, messages := r.mailbox.Stats()
	sessions := r.Sessions()
	return Stats{
		Online:            len(sessions),
		PendingRecipients: recipients,
		PendingMessages:   messages,
		ContactOwners:     r.contacts.Users(),
		Sessions:          sessions,
	}
}

// Shutdown stops accepting sessions, sends SERVER_SHUTTING_DOWN to every
// registered client, tears every session down and waits for their
// goroutines to finish or for ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	conns := make([]*Session, 0, len(r.conns))
	for s := range r.conns {
		conns = append(conns, s)
	}
	r.mu.Unlock()

	registered := r.registry.Sessions()
	r.log.Info().Int("clients", len(registered)).Msg("Shutting down relay")

	notice := protocol.Encode(protocol.ServerShuttingDown{})
	for _, s := range registered {
		_ = s.Send(notice)
	}
	for _, s := range registered {
		r.teardown(s, false)
	}
	for _, s := range conns {
		r.teardown(s, false)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Msg("Relay shutdown completed")
		return nil
	case <-ctx.Done():
		r.log.Warn().Msg("Relay shutdown timed out; some sessions may still be running")
		return ctx.Err()
	}
}
