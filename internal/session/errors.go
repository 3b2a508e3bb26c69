package session

import "errors"

// Domain errors for the session package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.New("session: configuration error")

	// ErrConnection matches every ConnectionError.
	ErrConnection = errors.New("session: connection error")

	// ErrOperation matches every OperationError.
	ErrOperation = errors.New("session: operation error")

	// ErrConnectTimeout is the cause when the broker does not acknowledge
	// the connection in time. The message is reported verbatim on the bus.
	ErrConnectTimeout = errors.New("Connection timeout") //nolint:staticcheck // bus protocol message

	// ErrStopped is the cause when the session is stopped before the
	// broker acknowledged the connection.
	ErrStopped = errors.New("session stopped")

	// ErrTransport is used when the transport reports an error without a cause.
	ErrTransport = errors.New("session: transport error")

	// ErrIDCollision fails a delivery whose message id was reallocated
	// before the client acknowledged it.
	ErrIDCollision = errors.New("session: message id reused while pending")

	// ErrDeliveryRejected wraps the error text a client returned for an
	// inbound message.
	ErrDeliveryRejected = errors.New("session: delivery rejected by client")

	// ErrAlreadyStarted is returned by Run when called more than once.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrMissingSessionKey is returned by New for an empty session key.
	ErrMissingSessionKey = errors.New("session: session key is required")

	// ErrNilBus is returned by New without a bus.
	ErrNilBus = errors.New("session: bus is required")

	// ErrNilTransport is returned by New without a transport.
	ErrNilTransport = errors.New("session: transport is required")
)

// ConfigurationError reports that no usable broker configuration could be
// obtained: the resolver failed or its result had no connection URL.
//
// Error returns the cause's message unchanged so it can be published on
// the bus as-is.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }

// Unwrap exposes both the cause and ErrConfiguration to errors.Is.
func (e *ConfigurationError) Unwrap() []error { return []error{e.Err, ErrConfiguration} }

// ConnectionError reports that the broker connection failed or timed out
// before it was acknowledged.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return e.Err.Error() }

// Unwrap exposes both the cause and ErrConnection to errors.Is.
func (e *ConnectionError) Unwrap() []error { return []error{e.Err, ErrConnection} }

// OperationError reports a failed subscribe, unsubscribe or publish.
// It never ends the session.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return e.Err.Error() }

// Unwrap exposes both the cause and ErrOperation to errors.Is.
func (e *OperationError) Unwrap() []error { return []error{e.Err, ErrOperation} }
