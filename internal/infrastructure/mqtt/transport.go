package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// subscribeFailure is the SUBACK return code for a refused subscription.
const subscribeFailure = 0x80

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Transport opens one paho client per session. It implements
// session.Transport.
//
// Thread Safety: Connect is safe for concurrent use.
type Transport struct {
	logger Logger
}

// NewTransport creates a transport. A nil logger discards logs.
func NewTransport(logger Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{logger: logger}
}

// Connect starts connecting to brokerURL and returns immediately.
//
// The outcome is reported through handler as session.EventConnAck (with
// the broker's session-present flag) or session.EventError. Afterwards,
// reconnects are reported as EventConnAck, lost connections as
// EventOffline, and inbound messages as EventMessage.
//
// Parameters:
//   - brokerURL: Broker address, e.g. "mqtt://localhost:1883"
//   - opts: Client options (client id, clean session, credentials, TLS, will)
//   - handler: Receives connection events; must not block
//
// Returns:
//   - session.Connection: Handle for the connection attempt
//   - error: If the options are invalid; no events follow
func (t *Transport) Connect(brokerURL string, opts session.ConnectOptions, handler func(session.Event)) (session.Connection, error) {
	clientOpts, err := buildClientOptions(brokerURL, opts)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		clientID: opts.ClientID,
		handler:  handler,
		logger:   t.logger,
	}
	clientOpts.SetDefaultPublishHandler(c.handleMessage)
	clientOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	clientOpts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		t.logger.Debug("mqtt reconnecting", "client_id", opts.ClientID)
	})

	c.client = pahomqtt.NewClient(clientOpts)
	token := c.client.Connect()
	go c.awaitConnect(token)

	return c, nil
}

// Connection is one paho client. It implements session.Connection.
//
// Thread Safety: All methods are safe for concurrent use.
type Connection struct {
	client   pahomqtt.Client
	clientID string
	handler  func(session.Event)
	logger   Logger

	// initialSeen is set by the first OnConnect callback, which duplicates
	// the outcome already reported by awaitConnect.
	initialSeen atomic.Bool

	// closed stops events once End has been called.
	closed atomic.Bool
}

// awaitConnect reports the outcome of the first connection attempt.
func (c *Connection) awaitConnect(token pahomqtt.Token) {
	<-token.Done()

	if err := token.Error(); err != nil {
		c.emit(session.Event{
			Type: session.EventError,
			Err:  fmt.Errorf("%w: %w", ErrConnectionFailed, err),
		})
		return
	}

	present := false
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		present = ct.SessionPresent()
	}
	c.emit(session.Event{Type: session.EventConnAck, SessionPresent: present})
}

// handleConnect is called by paho on every successful connect.
func (c *Connection) handleConnect() {
	if c.initialSeen.CompareAndSwap(false, true) {
		return
	}
	c.emit(session.Event{Type: session.EventConnAck})
}

// handleConnectionLost is called by paho when an established connection drops.
func (c *Connection) handleConnectionLost(err error) {
	c.logger.Warn("mqtt connection lost", "client_id", c.clientID, "error", err)
	c.emit(session.Event{Type: session.EventOffline, Err: err})
}

// handleMessage turns a paho message into a session event. The broker
// acknowledgement is deferred to InboundMessage.Ack.
func (c *Connection) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.emit(session.Event{
		Type: session.EventMessage,
		Message: &session.InboundMessage{
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
			QoS:     msg.Qos(),
			Retain:  msg.Retained(),
			Ack: func(err error) {
				if err != nil {
					c.logger.Debug("mqtt message left unacknowledged",
						"client_id", c.clientID,
						"topic", msg.Topic(),
						"error", err)
					return
				}
				msg.Ack()
			},
		},
	})
}

// emit forwards an event to the session with panic recovery.
func (c *Connection) emit(ev session.Event) {
	if c.closed.Load() || c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mqtt event handler panic recovered",
				"client_id", c.clientID,
				"event", ev.Type.String(),
				"panic", r,
			)
		}
	}()
	c.handler(ev)
}

// Subscribe subscribes to a topic filter and returns the QoS granted by
// the broker.
//
// Returns:
//   - byte: Granted QoS (0, 1 or 2)
//   - error: ErrSubscriptionRejected on a 0x80 return code, or a wrapped
//     ErrSubscribeFailed
func (c *Connection) Subscribe(ctx context.Context, topic string, qos byte) (byte, error) {
	if topic == "" {
		return 0, ErrInvalidTopic
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	// Inbound messages go to the default publish handler.
	token := c.client.Subscribe(topic, qos, nil)
	if err := waitToken(ctx, token); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	granted := qos
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found {
			granted = code
		}
	}
	if granted == subscribeFailure {
		return 0, fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
	}
	return granted, nil
}

// Unsubscribe removes a topic filter.
func (c *Connection) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Publish sends a message to the broker.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retain: Whether the broker should retain the message
func (c *Connection) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retain, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// End disconnects from the broker and stops all events. With force set,
// pending work is not waited for. Calling End more than once is a no-op.
func (c *Connection) End(force bool) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.client == nil {
		return nil
	}

	var quiesce uint = 250
	if force {
		quiesce = 0
	}
	c.client.Disconnect(quiesce)
	return nil
}

// IsConnected reports whether the client is currently connected.
func (c *Connection) IsConnected() bool {
	return c.client != nil && !c.closed.Load() && c.client.IsConnected()
}

// waitToken waits for a paho token or the context, whichever is first.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}
