package session

import "time"

// Operation names reported to an Observer.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpDeliver     = "deliver"
)

// Observer receives session telemetry. Implementations must be safe for
// concurrent use by many sessions and must not block.
type Observer interface {
	// StateChanged is called on every state transition.
	StateChanged(sessionKey string, from, to State)

	// OperationCompleted is called when a bridged operation finishes.
	// err is nil on success.
	OperationCompleted(sessionKey, op string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State, State)                        {}
func (nopObserver) OperationCompleted(string, string, error, time.Duration) {}
