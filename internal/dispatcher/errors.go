package dispatcher

import "errors"

// Domain errors for the dispatcher package.
var (
	// ErrRateLimited is reported on brokerConnect/<key>/res when a connect
	// request exceeds the configured rate. The message is part of the bus
	// protocol.
	ErrRateLimited = errors.New("connect rate limit exceeded")

	// ErrAlreadyRunning is returned by Start when the dispatcher is running.
	ErrAlreadyRunning = errors.New("dispatcher: already running")

	// ErrNilBus is returned by New without a bus.
	ErrNilBus = errors.New("dispatcher: bus is required")

	// ErrNilTransport is returned by New without a transport.
	ErrNilTransport = errors.New("dispatcher: transport is required")
)
