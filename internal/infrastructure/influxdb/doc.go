// Package influxdb records MQTT bridge session telemetry in InfluxDB.
//
// Client implements session.Observer. The dispatcher hands it to every
// session it starts, so each state transition and each bridged broker
// operation becomes a point. Writes go through the non-blocking batched
// write API of influxdb-client-go v2; a slow or unreachable server never
// holds up a session.
//
// # Measurements
//
//   - session_state: one point per state transition (tags session_key, from, to)
//   - session_operation: one point per subscribe, unsubscribe, publish or
//     delivery acknowledgement (tags session_key, op, outcome; fields
//     duration_ms, error)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	d, _ := dispatcher.New(dispatcher.Options{Observer: client, ...})
//
// # Thread Safety
//
// All methods are safe for concurrent use; sessions report from their own
// goroutines.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// SetOnError callback wrapped in ErrWriteFailed. Connection and health
// check errors are returned directly.
package influxdb
