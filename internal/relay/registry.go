package relay

import (
	"sort"
	"sync"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Registry maps identities to their live sessions. All access goes through
// its methods; the lock is held only for map edits and never while sending.
type Registry struct {
	mu      sync.RWMutex
	seq     uint64
	entries map[string]registryEntry
}

type registryEntry struct {
	session *Session
	seq     uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Add inserts a session under its identity. It returns false without
// changing anything if the identity is empty or already taken.
func (r *Registry) Add(s *Session) bool {
	identity := s.Identity()
	if identity == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[identity]; exists {
		return false
	}
	r.seq++
	r.entries[identity] = registryEntry{session: s, seq: r.seq}
	return true
}

// Remove deletes the session's entry. It is a no-op if the session is not
// the one registered under its identity.
func (r *Registry) Remove(s *Session) bool {
	identity := s.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[identity]
	if !ok || entry.session != s {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Find returns the session registered under identity, or nil.
func (r *Registry) Find(identity string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[identity]; ok {
		return entry.session
	}
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SnapshotIdentities returns the registered identities in registration order.
func (r *Registry) SnapshotIdentities() []string {
	sessions := r.Sessions()
	identities := make([]string, len(sessions))
	for i, s := range sessions {
		identities[i] = s.Identity()
	}
	return identities
}

// Sessions returns a point-in-time snapshot of registered sessions in
// registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	sessions := make([]*Session, len(entries))
	for i, entry := range entries {
		sessions[i] = entry.session
	}
	return sessions
}

// Broadcast sends env to every registered session except exclude and
// returns how many sends succeeded. Sessions that register or leave while
// the broadcast is in flight may or may not receive it.
func (r *Registry) Broadcast(env protocol.Envelope, exclude *Session) int {
	delivered := 0
	for _, s := range r.Sessions() {
		if exclude != nil && s == exclude {
			continue
		}
		if err := s.Send(env); err == nil {
			delivered++
		}
	}
	return delivered
}
