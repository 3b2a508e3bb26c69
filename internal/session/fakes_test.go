package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
)

const waitTimeout = 2 * time.Second

// connectCall records one Transport.Connect invocation.
type connectCall struct {
	url     string
	opts    ConnectOptions
	conn    *fakeConnection
	handler func(Event)
}

// fakeTransport records connect attempts and hands each one to the test.
type fakeTransport struct {
	connectErr error
	calls      chan connectCall
	count      atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(chan connectCall, 4)}
}

func (f *fakeTransport) Connect(url string, opts ConnectOptions, handler func(Event)) (Connection, error) {
	f.count.Add(1)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	conn := newFakeConnection(handler)
	f.calls <- connectCall{url: url, opts: opts, conn: conn, handler: handler}
	return conn, nil
}

// waitConnect returns the next connect attempt.
func (f *fakeTransport) waitConnect(t *testing.T) connectCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for Connect")
		return connectCall{}
	}
}

// fakeConnection is a scriptable connection handle.
type fakeConnection struct {
	handler func(Event)

	mu           sync.Mutex
	subscribeErr error
	granted      byte
	unsubErr     error
	publishErr   error
	published    []string
	connected    bool
	block        chan struct{}

	ends atomic.Int32
}

func newFakeConnection(handler func(Event)) *fakeConnection {
	return &fakeConnection{handler: handler, connected: true}
}

func (c *fakeConnection) emit(ev Event) { c.handler(ev) }

func (c *fakeConnection) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *fakeConnection) wait(ctx context.Context) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConnection) Subscribe(ctx context.Context, _ string, qos byte) (byte, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return 0, c.subscribeErr
	}
	if c.granted != 0 {
		return c.granted, nil
	}
	return qos, nil
}

func (c *fakeConnection) Unsubscribe(ctx context.Context, _ string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubErr
}

func (c *fakeConnection) Publish(ctx context.Context, topic string, _ []byte, _ byte, _ bool) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, topic)
	return c.publishErr
}

func (c *fakeConnection) End(_ bool) error {
	c.ends.Add(1)
	c.setConnected(false)
	return nil
}

func (c *fakeConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// recorder collects bus messages for one topic pattern.
type recorder struct {
	ch chan bus.Message
}

func record(t *testing.T, b *bus.Bus, pattern bus.Topic) *recorder {
	t.Helper()
	r := &recorder{ch: make(chan bus.Message, 64)}
	sub := b.Subscribe(pattern, func(msg bus.Message) { r.ch <- msg })
	t.Cleanup(sub.Unsubscribe)
	return r
}

func (r *recorder) next(t *testing.T) bus.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for bus message")
		return bus.Message{}
	}
}

// none fails if a message arrives within d.
func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected bus message on %s: %+v", msg.Topic, msg.Payload)
	case <-time.After(d):
	}
}

// recordingObserver captures telemetry callbacks.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	ops         []string
}

func (o *recordingObserver) StateChanged(_ string, _, to State) {
	o.mu.Lock()
	o.transitions = append(o.transitions, to)
	o.mu.Unlock()
}

func (o *recordingObserver) OperationCompleted(_, op string, _ error, _ time.Duration) {
	o.mu.Lock()
	o.ops = append(o.ops, op)
	o.mu.Unlock()
}

func (o *recordingObserver) states() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.transitions...)
}

// waitDone waits for the session to finish.
func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for session to finish")
	}
}

// waitState polls until the session reaches want.
func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", s.State(), want)
}
