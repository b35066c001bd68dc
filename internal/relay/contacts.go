package relay

import (
	"sort"
	"sync"
)

// ContactBook tracks each user's set of contacts. Entries are never pruned.
type ContactBook struct {
	mu       sync.Mutex
	contacts map[string]map[string]struct{}
}

// NewContactBook creates an empty contact book.
func NewContactBook() *ContactBook {
	return &ContactBook{contacts: make(map[string]map[string]struct{})}
}

// Add records contact in user's book. Duplicates are ignored and reported
// as false.
func (b *ContactBook) Add(user, contact string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.contacts[user]
	if !ok {
		set = make(map[string]struct{})
		b.contacts[user] = set
	}
	if _, exists := set[contact]; exists {
		return false
	}
	set[contact] = struct{}{}
	return true
}

// Contacts returns user's contacts, sorted.
func (b *ContactBook) Contacts(user string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.contacts[user]
	out := make([]string, 0, len(set))
	for contact := range set {
		out = append(out, contact)
	}
	sort.Strings(out)
	return out
}

// Users returns how many users own a contact list.
func (b *ContactBook) Users() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contacts)
}
