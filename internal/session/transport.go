package session

import (
	"context"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
)

// Transport opens MQTT connections. It is implemented by the paho adapter
// in internal/infrastructure/mqtt and by fakes in tests.
type Transport interface {
	// Connect starts connecting to url and returns immediately.
	//
	// The outcome is reported through handler: EventConnAck once the broker
	// acknowledges, or EventError if the attempt fails. Later events
	// (reconnects, offline, inbound messages) use the same handler.
	// handler may be called from any goroutine and must not block.
	//
	// A returned error means no connection handle exists and no events
	// will be delivered.
	Connect(url string, opts ConnectOptions, handler func(Event)) (Connection, error)
}

// Connection is an open MQTT connection handle.
type Connection interface {
	// Subscribe subscribes to a topic filter and returns the granted QoS.
	Subscribe(ctx context.Context, topic string, qos byte) (byte, error)

	// Unsubscribe removes a topic filter.
	Unsubscribe(ctx context.Context, topic string) error

	// Publish sends a message to the broker.
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error

	// End closes the connection. With force set, in-flight work is dropped.
	// It blocks until the connection is closed.
	End(force bool) error

	// IsConnected reports whether the connection is currently up.
	IsConnected() bool
}

// ConnectOptions are the options passed to Transport.Connect.
// The broker URL is never part of them.
type ConnectOptions struct {
	// ClientID is the MQTT client identifier (the session identity).
	ClientID string

	// CleanSession asks the broker to discard prior session state.
	CleanSession bool

	// Will is the last-will message, or nil for none.
	Will *Will

	// Options are the remaining broker configuration fields.
	brokerconfig.Options
}

// Will is an MQTT last-will message.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// EventType identifies a transport event.
type EventType int

// Transport event types.
const (
	// EventConnAck reports a broker acknowledgement, on first connect and
	// on every reconnect.
	EventConnAck EventType = iota

	// EventError reports a failed connection attempt or a transport error.
	EventError

	// EventOffline reports that the connection was lost.
	EventOffline

	// EventMessage carries an inbound message.
	EventMessage
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case EventConnAck:
		return "connack"
	case EventError:
		return "error"
	case EventOffline:
		return "offline"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a notification from the transport.
type Event struct {
	Type EventType

	// SessionPresent is set on EventConnAck when the broker resumed a
	// prior session.
	SessionPresent bool

	// Err is set on EventError.
	Err error

	// Message is set on EventMessage.
	Message *InboundMessage
}

// InboundMessage is a message received from the broker.
type InboundMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Ack completes the delivery. A nil error acknowledges the message to
	// the broker; a non-nil error leaves it unacknowledged. Ack may be nil
	// when the transport acknowledges automatically.
	Ack func(err error)
}
