package session

import "sync"

// mailbox is an unbounded FIFO feeding the session goroutine.
//
// Producers (transport callbacks, bus handlers, operation goroutines)
// never block. After close, posts are dropped.
type mailbox struct {
	mu     sync.Mutex
	items  []any
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post appends item and wakes the consumer. It reports false when the
// mailbox is closed and the item was dropped.
func (m *mailbox) post(item any) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest item.
func (m *mailbox) pop() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil, false
	}
	item := m.items[0]
	m.items[0] = nil
	m.items = m.items[1:]
	return item, true
}

// ready is signalled after a post. A signal may be stale, so the consumer
// must pop until empty before waiting again.
func (m *mailbox) ready() <-chan struct{} {
	return m.notify
}

// close drops pending items and rejects later posts.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
}
