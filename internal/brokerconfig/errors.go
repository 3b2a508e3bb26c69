package brokerconfig

import "errors"

// Domain-specific errors for broker configuration.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoValidConfig is returned when a resolved configuration is missing
	// or has no connection URL. The message is reported verbatim on the bus.
	ErrNoValidConfig = errors.New("No valid configuration given") //nolint:staticcheck // bus protocol message

	// ErrUnknownIdentity is returned by resolvers with no entry and no default
	// for the requested identity.
	ErrUnknownIdentity = errors.New("brokerconfig: no configuration for identity")

	// ErrNotFound is returned by Store when no row exists for an identity.
	ErrNotFound = errors.New("brokerconfig: not found")

	// ErrResolverUnavailable is returned while the circuit breaker is open.
	ErrResolverUnavailable = errors.New("brokerconfig: resolver unavailable")

	// ErrResolverPanic is returned when a dynamic resolver panics.
	ErrResolverPanic = errors.New("brokerconfig: resolver panicked")
)
