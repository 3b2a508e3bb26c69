package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// Measurement names written by the observer.
const (
	measurementState     = "session_state"
	measurementOperation = "session_operation"
)

var _ session.Observer = (*Client)(nil)

// StateChanged records a session state transition as a session_state point.
//
// Tags: session_key, from, to. Fields: value (1).
func (c *Client) StateChanged(sessionKey string, from, to session.State) {
	c.writePoint(statePoint(sessionKey, from, to, time.Now()))
}

// OperationCompleted records a bridged operation as a session_operation
// point.
//
// Tags: session_key, op, outcome ("ok" or "error").
// Fields: duration_ms, and error when the operation failed.
func (c *Client) OperationCompleted(sessionKey, op string, err error, elapsed time.Duration) {
	c.writePoint(operationPoint(sessionKey, op, err, elapsed, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() || c.writeAPI == nil {
		return
	}
	c.writeAPI.WritePoint(p)
}

func statePoint(sessionKey string, from, to session.State, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementState,
		map[string]string{
			"session_key": sessionKey,
			"from":        from.String(),
			"to":          to.String(),
		},
		map[string]any{
			"value": int64(1),
		},
		ts,
	)
}

func operationPoint(sessionKey, op string, err error, elapsed time.Duration, ts time.Time) *write.Point {
	outcome := "ok"
	fields := map[string]any{
		"duration_ms": float64(elapsed) / float64(time.Millisecond),
	}
	if err != nil {
		outcome = "error"
		fields["error"] = err.Error()
	}

	return write.NewPoint(
		measurementOperation,
		map[string]string{
			"session_key": sessionKey,
			"op":          op,
			"outcome":     outcome,
		},
		fields,
		ts,
	)
}
