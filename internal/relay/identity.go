package relay

import (
	"fmt"
	"sync/atomic"
)

// IdentityCounter hands out the numeric prefix of session identities. The
// first value is 1 and values strictly increase for the counter's lifetime.
type IdentityCounter struct {
	n atomic.Uint64
}

// NewIdentityCounter returns a counter whose next value is 1.
func NewIdentityCounter() *IdentityCounter {
	return &IdentityCounter{}
}

// Next returns the next counter value.
func (c *IdentityCounter) Next() uint64 {
	return c.n.Add(1)
}

// Assign builds a unique identity of the form "<counter> - <nickname>".
func (c *IdentityCounter) Assign(nickname string) string {
	return fmt.Sprintf("%d - %s", c.Next(), nickname)
}

// Reset makes the next value 1 again.
func (c *IdentityCounter) Reset() {
	c.n.Store(0)
}
