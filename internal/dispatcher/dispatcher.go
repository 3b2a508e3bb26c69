package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// Logger is the logging interface used by the dispatcher.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a dispatcher.
type Options struct {
	// Bus is the event bus to listen on. Required.
	Bus *bus.Bus

	// Transport opens broker connections for sessions. Required.
	Transport session.Transport

	// Resolver supplies the broker configuration for an identity when the
	// connect request carries none. If nil, such requests fail with
	// "No valid configuration given".
	Resolver brokerconfig.Resolver

	// Logger is optional; nil discards logs.
	Logger Logger

	// Observer receives session telemetry. Optional.
	Observer session.Observer

	// ConnectRate limits accepted connect requests per second.
	// Zero or negative disables limiting.
	ConnectRate float64

	// ConnectBurst is the number of connect requests allowed at once when
	// ConnectRate is set. Defaults to 1.
	ConnectBurst int

	// ConnectTimeout and OperationTimeout are passed to every session.
	// Zero uses the session defaults.
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Dispatcher starts one session per brokerConnect request.
//
// Thread Safety: All methods are safe for concurrent use.
type Dispatcher struct {
	bus       *bus.Bus
	transport session.Transport
	resolver  brokerconfig.Resolver
	logger    Logger
	limiter   *rate.Limiter

	sessionOpts []session.Option

	mu       sync.Mutex
	running  bool
	sub      bus.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[string]*session.Session

	wg sync.WaitGroup
}

// New creates a dispatcher. Call Start or Run to begin listening.
func New(opts Options) (*Dispatcher, error) {
	if opts.Bus == nil {
		return nil, ErrNilBus
	}
	if opts.Transport == nil {
		return nil, ErrNilTransport
	}

	d := &Dispatcher{
		bus:       opts.Bus,
		transport: opts.Transport,
		resolver:  opts.Resolver,
		logger:    opts.Logger,
		sessions:  make(map[string]*session.Session),
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}

	if opts.ConnectRate > 0 {
		burst := opts.ConnectBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.ConnectRate), burst)
	}

	d.sessionOpts = []session.Option{
		session.WithLogger(d.logger),
		session.WithObserver(opts.Observer),
		session.WithConnectTimeout(opts.ConnectTimeout),
		session.WithOperationTimeout(opts.OperationTimeout),
	}
	return d, nil
}

// Start subscribes to brokerConnect/*/req. Sessions started afterwards
// run until they finish on their own, ctx is cancelled, or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.sub = d.bus.Subscribe(bus.Request(bus.EventConnect, bus.Wildcard), d.handleConnect)
	d.running = true

	d.logger.Info("dispatcher listening", "topic", bus.Request(bus.EventConnect, bus.Wildcard).String())
	return nil
}

// Run starts the dispatcher, blocks until ctx is cancelled and then stops
// it, waiting for every session to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Stop stops listening and finalises every live session, blocking until
// all of them have released their connections. It is safe to call more
// than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.sub.Unsubscribe()
	d.cancel()
	active := len(d.sessions)
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping", "active_sessions", active)
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Connect starts a session for req as if it had arrived on the bus.
// It is used for sessions configured at start-up.
func (d *Dispatcher) Connect(req bus.ConnectRequest) {
	d.handleConnect(bus.Message{
		Topic:   bus.Request(bus.EventConnect, req.SessionKey),
		Payload: req,
	})
}

// Session returns the live session for key.
func (d *Dispatcher) Session(key string) (*session.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[key]
	return s, ok
}

// Sessions returns the keys of all live sessions in ascending order.
func (d *Dispatcher) Sessions() []string {
	d.mu.Lock()
	keys := make([]string, 0, len(d.sessions))
	for key := range d.sessions {
		keys = append(keys, key)
	}
	d.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// handleConnect runs on the publisher's goroutine; everything that may
// block happens on the session goroutine.
func (d *Dispatcher) handleConnect(msg bus.Message) {
	payload, err := bus.NormalizePayload(msg.Topic, msg.Payload)
	if err != nil {
		d.logger.Warn("malformed connect payload",
			"topic", msg.Topic.String(),
			"type", fmt.Sprintf("%T", msg.Payload),
			"error", err)
		if key := msg.Topic.SessionKey; key != "" && key != bus.Wildcard {
			d.reject(key, err)
		}
		return
	}
	req, _ := payload.(bus.ConnectRequest)
	if req.SessionKey == "" {
		req.SessionKey = msg.Topic.SessionKey
	}
	if req.SessionKey == "" || req.SessionKey == bus.Wildcard {
		d.logger.Warn("connect request without session key", "identity", req.Identity)
		return
	}

	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("connect request rate limited",
			"session_key", req.SessionKey,
			"identity", req.Identity)
		d.reject(req.SessionKey, ErrRateLimited)
		return
	}

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.logger.Debug("connect request while stopped", "session_key", req.SessionKey)
		return
	}
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	go d.runSession(ctx, req)
}

// runSession seeds, tracks and runs one session.
func (d *Dispatcher) runSession(ctx context.Context, req bus.ConnectRequest) {
	defer d.wg.Done()

	s, err := session.New(d.bus, d.transport, session.Params{
		SessionKey:   req.SessionKey,
		Identity:     req.Identity,
		Source:       d.seed(ctx, req),
		HasWill:      req.HasWill,
		WillTopic:    req.WillTopic,
		WillMessage:  req.WillMessage,
		CleanSession: req.CleanSession,
	}, d.sessionOpts...)
	if err != nil {
		d.logger.Error("creating session failed", "session_key", req.SessionKey, "error", err)
		d.reject(req.SessionKey, err)
		return
	}

	d.track(s)
	defer d.untrack(s)

	d.logger.Info("session started",
		"session_key", req.SessionKey,
		"session_id", s.ID(),
		"identity", req.Identity)

	if err := s.Run(ctx); err != nil {
		d.logger.Debug("session finished with error", "session_key", req.SessionKey, "error", err)
	}
}

// seed returns the configuration source for a new session. An inline
// configuration wins; otherwise the dispatcher resolves the identity now
// and hands the outcome, success or failure, to the session's Init.
func (d *Dispatcher) seed(ctx context.Context, req bus.ConnectRequest) brokerconfig.Source {
	if req.Broker != nil {
		return brokerconfig.Static(req.Broker)
	}
	if d.resolver == nil {
		return brokerconfig.Source{}
	}

	cfg, err := brokerconfig.Dynamic(d.resolver).Resolve(ctx, req.Identity)
	return brokerconfig.Dynamic(brokerconfig.ResolveFunc(func(context.Context, string) (*brokerconfig.Config, error) {
		return cfg, err
	}))
}

func (d *Dispatcher) track(s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.sessions[s.Key()]; ok {
		d.logger.Warn("session key already active",
			"session_key", s.Key(),
			"previous_session_id", prev.ID(),
			"session_id", s.ID())
	}
	d.sessions[s.Key()] = s
}

func (d *Dispatcher) untrack(s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessions[s.Key()] == s {
		delete(d.sessions, s.Key())
	}
}

// reject answers a connect request that never became a session.
func (d *Dispatcher) reject(key string, cause error) {
	err := d.bus.Publish(bus.Response(bus.EventConnect, key), bus.ConnectResponse{
		SessionKey: key,
		Error:      cause.Error(),
	})
	if err != nil {
		d.logger.Error("bus publish failed", "session_key", key, "error", err)
	}
}
