package bus

import "errors"

// Domain-specific errors for bus operations.
var (
	// ErrInvalidTopic is returned when publishing to a malformed topic.
	ErrInvalidTopic = errors.New("bus: invalid topic")

	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrUnknownPayload is returned when decoding a payload for a topic
	// that is not part of the bridge protocol.
	ErrUnknownPayload = errors.New("bus: unknown payload")

	// ErrMalformedPayload is returned when a payload does not match the
	// type its topic carries.
	ErrMalformedPayload = errors.New("bus: malformed payload")
)
