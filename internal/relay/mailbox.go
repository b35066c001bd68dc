package relay

import "sync"

// OfflineMessage is a message held for a recipient that was not online.
type OfflineMessage struct {
	Sender    string
	Body      string
	Timestamp string
}

// Mailbox queues undelivered messages per recipient. A recipient has an
// entry only while at least one message is pending.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][]OfflineMessage
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{queues: make(map[string][]OfflineMessage)}
}

// Store appends a message to the recipient's queue.
func (m *Mailbox) Store(recipient, sender, body, timestamp string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[recipient] = append(m.queues[recipient], OfflineMessage{
		Sender:    sender,
		Body:      body,
		Timestamp: timestamp,
	})
}

// Drain removes and returns the recipient's whole queue, oldest first.
// It returns nil when nothing is pending.
func (m *Mailbox) Drain(recipient string) []OfflineMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, ok := m.queues[recipient]
	if !ok {
		return nil
	}
	delete(m.queues, recipient)
	return queue
}

// Pending returns how many messages are queued for recipient.
func (m *Mailbox) Pending(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[recipient])
}

// Stats returns the number of recipients with pending messages and the
// total number of pending messages.
func (m *Mailbox) Stats() (recipients, messages int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, queue := range m.queues {
		messages += len(queue)
	}
	return len(m.queues), messages
}
