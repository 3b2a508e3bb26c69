// Package session implements the per-session MQTT connection state machine.
//
// A Session owns exactly one MQTT connection on behalf of one logical
// client, addressed on the bus by its session key. It walks the
// connection through four states:
//
//	Init ──► Connect ──► Connected ──► Final
//	  │         │                        ▲
//	  └─────────┴────────────────────────┘  (errors)
//
//   - Init resolves and validates the broker configuration.
//   - Connect opens the transport and waits for the broker acknowledgement,
//     a transport error, or the connect timeout (9.5s), whichever comes first.
//   - Connected bridges bus requests (subscribe, unsubscribe, publish) to the
//     broker and broker messages back to the bus as brokerPublishToClient
//     requests awaiting an acknowledgement.
//   - Final reports a connect-phase failure on brokerConnect/<key>/res,
//     force-closes the connection and releases everything.
//
// # Concurrency
//
// Each session runs on a single goroutine (Run). Transport callbacks, bus
// deliveries and finished broker operations are posted to a per-session
// mailbox and consumed in arrival order by that goroutine, so session
// state is never shared. The mailbox is closed in Final; anything that
// arrives afterwards is dropped, which is how late acknowledgements and
// late operation results are suppressed.
//
// Broker operations run on their own goroutines so a slow subscribe does
// not hold up the session. Their responses may therefore complete out of
// order; each carries the msgId of its request.
//
// # Errors
//
// ConfigurationError and ConnectionError end the session and are reported
// exactly once on brokerConnect/<key>/res. OperationError is reported on the
// response of the one request that failed; the session stays connected.
//
// # Usage
//
//	s, err := session.New(b, transport, session.Params{
//	    SessionKey: "sensor-7",
//	    Identity:   "sensor-7",
//	    Source:     brokerconfig.Static(&brokerconfig.Config{URL: "mqtt://localhost:1883"}),
//	}, session.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	go s.Run(ctx)
//	<-s.Done()
package session
