// Package mqtt is the MQTT transport used by bridge sessions, built on
// github.com/eclipse/paho.mqtt.golang.
//
// Each session gets its own paho client. The transport:
//   - Maps session.ConnectOptions onto paho ClientOptions (client id, clean
//     session, credentials, keepalive, protocol version, TLS, last will)
//   - Connects asynchronously and reports the outcome as a session event
//     (connack with the broker's session-present flag, or error)
//   - Reports reconnects and lost connections as connack/offline events
//   - Delivers inbound messages with manual acknowledgement, so a message
//     is only acknowledged to the broker once the client has accepted it
//
// # Reconnection
//
// The initial connection is attempted once; the session owns the connect
// timeout and reports failures. Once connected, paho reconnects
// automatically with backoff and the session only logs the state changes.
//
// # Security Considerations
//
//   - mqtts://, ssl://, tls:// and wss:// URLs always use TLS 1.2 or newer
//   - CA and client certificates may be given inline (PEM) or as files
//   - insecure_skip_verify exists for test brokers only
//
// # Usage
//
//	transport := mqtt.NewTransport(logger)
//	conn, err := transport.Connect("mqtts://broker:8883", session.ConnectOptions{
//	    ClientID:     "sensor-7",
//	    CleanSession: true,
//	}, func(ev session.Event) { ... })
package mqtt
