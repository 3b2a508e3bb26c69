package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Message is a single delivery on the bus.
type Message struct {
	Topic   Topic
	Payload any
}

// Handler receives messages for a subscription.
//
// Handlers run in the publisher's goroutine and must not block.
type Handler func(msg Message)

// Logger is the logging interface used by the bus.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bus is an in-process publish/subscribe router keyed by topic triples.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers may subscribe, unsubscribe and publish from inside a delivery.
type Bus struct {
	subs   map[string]*subscription
	mu     sync.RWMutex
	closed bool

	logger Logger
}

type subscription struct {
	id      string
	pattern Topic
	handler Handler
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id  string
	bus *Bus
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[string]*subscription),
		logger: slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger used for handler panics and dropped messages.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe registers handler for every topic matched by pattern.
// The pattern may use Wildcard as its session key.
func (b *Bus) Subscribe(pattern Topic, handler Handler) Subscription {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return Subscription{id: sub.id, bus: b}
}

// Publish delivers payload to every subscriber matching topic.
//
// Returns:
//   - error: ErrInvalidTopic for malformed topics, ErrClosed after Close
func (b *Bus) Publish(topic Topic, payload any) error {
	if err := topic.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.pattern.Matches(topic) {
			targets = append(targets, sub)
		}
	}
	logger := b.logger
	b.mu.RUnlock()

	if len(targets) == 0 {
		logger.Debug("bus message without subscribers", "topic", topic.String())
		return nil
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, sub := range targets {
		b.deliver(logger, sub, msg)
	}
	return nil
}

// deliver invokes one handler with panic recovery.
func (b *Bus) deliver(logger Logger, sub *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus handler panic recovered",
				"topic", msg.Topic.String(),
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(msg)
}

// SubscriberCount returns the number of subscriptions that would receive topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subs {
		if sub.pattern.Matches(topic) {
			n++
		}
	}
	return n
}

// Close drops all subscriptions. Later publishes return ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()
}

// Unsubscribe removes the subscription. It is safe to call more than once.
// A delivery already in progress may still reach the handler.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// ID returns the unique subscription identifier.
func (s Subscription) ID() string {
	return s.id
}
