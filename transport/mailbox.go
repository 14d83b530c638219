package transport

import (
	"context"
	"sync"

	"github.com/rbaliyan/redist/transport/message"
)

// Mailbox holds the messages delivered to one rank until a matching Recv
// takes them. Messages are matched in arrival order, so a receive for a
// tag never sees messages of another tag, and messages from one sender
// with the same tag are taken in the order they arrived.
type Mailbox struct {
	mu      sync.Mutex
	pending []Message
	notify  chan struct{}
	closed  bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{})}
}

// Put delivers msg. It never blocks.
func (m *Mailbox) Put(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	m.pending = append(m.pending, msg)
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

// Take removes and returns the first message matching source and tag,
// waiting for one to arrive if needed.
func (m *Mailbox) Take(ctx context.Context, source, tag int) (Message, error) {
	for {
		m.mu.Lock()
		for i, msg := range m.pending {
			if message.Matches(msg, source, tag) {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				m.mu.Unlock()
				return msg, nil
			}
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrTransportClosed
		}
		wait := m.notify
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close wakes every waiting receiver and rejects further messages.
// Messages still pending can be taken.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}
