package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
)

// Session timing defaults.
const (
	// DefaultConnectTimeout bounds the wait for the broker acknowledgement.
	DefaultConnectTimeout = 9500 * time.Millisecond

	// DefaultOperationTimeout bounds a single subscribe, unsubscribe or publish.
	DefaultOperationTimeout = 30 * time.Second

	// healthMessageID tags connection state logs so they can be found
	// across deployments.
	healthMessageID = "8badd8119b8a47d085ccd8b4a8217dd2"
)

// State is a session lifecycle state.
type State int

// Session states.
const (
	StateInit State = iota
	StateConnect
	StateConnected
	StateFinal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnect:
		return "connect"
	case StateConnected:
		return "connected"
	case StateFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Logger is the logging interface used by sessions.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Params are the values a session is started with, taken from the
// brokerConnect request.
type Params struct {
	// SessionKey addresses the session on the bus. Required.
	SessionKey string

	// Identity resolves the broker configuration and is used as the MQTT
	// client identifier.
	Identity string

	// Source yields the broker configuration during Init.
	Source brokerconfig.Source

	// HasWill enables the last-will message built from WillTopic and
	// WillMessage.
	HasWill     bool
	WillTopic   string
	WillMessage []byte

	// CleanSession asks the broker to discard prior session state.
	CleanSession bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the telemetry observer.
func WithObserver(observer Observer) Option {
	return func(s *Session) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout. Non-positive values
// are ignored.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithOperationTimeout overrides DefaultOperationTimeout. Non-positive
// values are ignored.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.operationTimeout = d
		}
	}
}

// Session is one MQTT client connection driven through
// Init → Connect → Connected → Final.
//
// Thread Safety:
//   - Run must be called once; it owns all connection state.
//   - State, Err, Done, Key and ID are safe for concurrent use.
type Session struct {
	id        string
	params    Params
	bus       *bus.Bus
	transport Transport
	logger    Logger
	observer  Observer

	connectTimeout   time.Duration
	operationTimeout time.Duration

	// Owned by the Run goroutine.
	brokerConfig *brokerconfig.Config
	conn         Connection
	connected    bool
	ids          *IDAllocator
	pending      map[uint16]delivery
	deferred     []*InboundMessage
	subs         []bus.Subscription

	mb       *mailbox
	ops      sync.WaitGroup
	opCtx    context.Context
	opCancel context.CancelFunc

	started atomic.Bool
	done    chan struct{}

	mu    sync.RWMutex
	state State
	err   error
}

// delivery is an inbound message awaiting the client's acknowledgement.
type delivery struct {
	msg     *InboundMessage
	started time.Time
}

// opResult is posted by an operation goroutine when the broker call returns.
type opResult struct {
	op      string
	reply   bus.Topic
	payload any
	err     error
	elapsed time.Duration
}

// New creates a session in the Init state. Call Run to start it.
func New(b *bus.Bus, transport Transport, params Params, opts ...Option) (*Session, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if params.SessionKey == "" {
		return nil, ErrMissingSessionKey
	}

	s := &Session{
		id:               uuid.NewString(),
		params:           params,
		bus:              b,
		transport:        transport,
		logger:           slog.New(slog.DiscardHandler),
		observer:         nopObserver{},
		connectTimeout:   DefaultConnectTimeout,
		operationTimeout: DefaultOperationTimeout,
		ids:              NewIDAllocator(0),
		pending:          make(map[uint16]delivery),
		mb:               newMailbox(),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Key returns the session key.
func (s *Session) Key() string { return s.params.SessionKey }

// ID returns the unique id of this session instance. A session key that
// is reused after teardown gets a new ID.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed when the session has reached Final and released its
// connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error the session ended with, or nil for a graceful
// disconnect. It is only meaningful after Done is closed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Run drives the session until it reaches Final and returns the error it
// ended with.
//
// Cancelling ctx stops the session: before the broker acknowledged the
// connection this is a ConnectionError (ErrStopped) reported on the bus;
// afterwards it is a graceful disconnect.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)

	s.opCtx, s.opCancel = context.WithCancel(context.WithoutCancel(ctx))

	s.logger.Debug("session starting",
		"session_key", s.params.SessionKey,
		"session_id", s.id,
		"identity", s.params.Identity)

	state := StateInit
	var cause error
	for state != StateFinal {
		var next State
		switch state {
		case StateInit:
			next, cause = s.runInit(ctx)
		case StateConnect:
			next, cause = s.runConnect(ctx)
		case StateConnected:
			next, cause = s.runConnected(ctx)
		}
		s.setState(next)
		state = next
	}

	s.runFinal(cause)
	return cause
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("session state changed",
		"session_key", s.params.SessionKey,
		"from", from.String(),
		"to", to.String())
	s.observer.StateChanged(s.params.SessionKey, from, to)
}

// runInit resolves and validates the broker configuration.
func (s *Session) runInit(ctx context.Context) (State, error) {
	cfg, err := s.params.Source.Resolve(ctx, s.params.Identity)
	if err != nil {
		return StateFinal, &ConfigurationError{Err: err}
	}
	if err := brokerconfig.Validate(cfg); err != nil {
		return StateFinal, &ConfigurationError{Err: err}
	}
	s.brokerConfig = cfg
	return StateConnect, nil
}

// runConnect opens the connection and waits for the first of: broker
// acknowledgement, transport error, connect timeout, cancellation.
func (s *Session) runConnect(ctx context.Context) (State, error) {
	s.connected = false

	url := s.brokerConfig.TakeURL()
	opts := ConnectOptions{
		ClientID:     s.params.Identity,
		CleanSession: s.params.CleanSession,
		Options:      s.brokerConfig.Options,
	}
	if s.params.HasWill {
		opts.Will = &Will{
			Topic:   s.params.WillTopic,
			Payload: s.params.WillMessage,
			QoS:     0,
			Retain:  false,
		}
	}

	conn, err := s.transport.Connect(url, opts, s.handleTransportEvent)
	if err != nil {
		return StateFinal, &ConnectionError{Err: err}
	}
	s.conn = conn

	timer := time.NewTimer(s.connectTimeout)
	defer timer.Stop()

	for {
		item, ok := s.mb.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return StateFinal, &ConnectionError{Err: ErrStopped}
			case <-timer.C:
				return StateFinal, &ConnectionError{Err: ErrConnectTimeout}
			case <-s.mb.ready():
			}
			continue
		}

		ev, isEvent := item.(Event)
		if !isEvent {
			continue
		}
		switch ev.Type {
		case EventConnAck:
			// Listen before announcing so a client reacting to the
			// response cannot race the bridge.
			s.subscribeBus()
			s.publish(bus.Response(bus.EventConnect, s.params.SessionKey), bus.ConnectResponse{
				SessionKey:     s.params.SessionKey,
				SessionResumed: ev.SessionPresent,
			})
			s.connected = true
			s.logger.Info("session connected",
				"session_key", s.params.SessionKey,
				"session_resumed", ev.SessionPresent)
			return StateConnected, nil
		case EventError:
			cause := ev.Err
			if cause == nil {
				cause = ErrTransport
			}
			return StateFinal, &ConnectionError{Err: cause}
		case EventMessage:
			// The broker may deliver queued messages before the
			// acknowledgement has been consumed here.
			s.deferred = append(s.deferred, ev.Message)
		default:
			s.logger.Debug("transport event ignored while connecting",
				"session_key", s.params.SessionKey,
				"event", ev.Type.String())
		}
	}
}

// runConnected bridges bus and broker until a disconnect call or
// cancellation.
func (s *Session) runConnected(ctx context.Context) (State, error) {
	defer s.unsubscribeBus()

	for _, msg := range s.deferred {
		s.deliverInbound(msg)
	}
	s.deferred = nil

	for {
		item, ok := s.mb.pop()
		if !ok {
			select {
			case <-ctx.Done():
				s.connected = false
				s.logger.Info("session stopping", "session_key", s.params.SessionKey)
				return StateFinal, nil
			case <-s.mb.ready():
			}
			continue
		}

		switch v := item.(type) {
		case Event:
			s.handleConnectedEvent(v)
		case bus.Message:
			if s.handleBusMessage(v) {
				s.connected = false
				s.logger.Info("session disconnect requested", "session_key", s.params.SessionKey)
				return StateFinal, nil
			}
		case opResult:
			s.completeOperation(v)
		}
	}
}

// runFinal reports a connect-phase failure, closes the connection and
// releases session resources. Calling it with no connection is a no-op
// for the transport.
func (s *Session) runFinal(cause error) {
	s.unsubscribeBus()
	s.mb.close()
	if s.opCancel != nil {
		s.opCancel()
	}

	if cause != nil {
		s.publish(bus.Response(bus.EventConnect, s.params.SessionKey), bus.ConnectResponse{
			SessionKey: s.params.SessionKey,
			Error:      cause.Error(),
		})
	}

	if s.conn != nil {
		if err := s.conn.End(true); err != nil {
			s.logger.Warn("closing broker connection failed",
				"session_key", s.params.SessionKey,
				"error", err)
		}
		s.conn = nil
	}
	s.connected = false

	s.ops.Wait()

	// Unacknowledged deliveries are dropped; the connection is gone.
	s.pending = nil
	s.deferred = nil
	s.brokerConfig = nil

	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()

	if cause != nil {
		s.logger.Warn("session ended with error",
			"session_key", s.params.SessionKey,
			"error", cause)
	} else {
		s.logger.Info("session ended", "session_key", s.params.SessionKey)
	}
}

// handleTransportEvent is the transport callback. It runs on transport
// goroutines and only queues the event.
func (s *Session) handleTransportEvent(ev Event) {
	if !s.mb.post(ev) {
		s.logger.Debug("transport event after teardown dropped",
			"session_key", s.params.SessionKey,
			"event", ev.Type.String())
	}
}

// publish sends a message on the bus, logging failures.
func (s *Session) publish(topic bus.Topic, payload any) {
	if err := s.bus.Publish(topic, payload); err != nil {
		s.logger.Error("bus publish failed",
			"session_key", s.params.SessionKey,
			"topic", topic.String(),
			"error", err)
	}
}
