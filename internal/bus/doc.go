// Package bus provides the in-process event router that connects MQTT
// sessions to the rest of the application.
//
// Every message is addressed by a triple (event, session key, kind):
//
//	brokerSubscribe / sensor-7 / req
//	brokerSubscribe / sensor-7 / res
//	brokerDisconnect / sensor-7 / call
//
// Kinds:
//   - req:  request, answered by a res on the same event and session key
//   - res:  response to a req, correlated by the triple plus an embedded msgId
//   - call: one-way notification, never answered
//
// Subscribers may use the wildcard session key "*" to receive an event for
// every session (the dispatcher listens on brokerConnect/*/req this way).
//
// # Delivery
//
// Publish delivers synchronously, in the publisher's goroutine, to every
// subscriber whose pattern matches the topic. Handlers must therefore be
// quick and must not block; long-running work belongs on the subscriber's
// own goroutine. Nothing survives a process restart.
//
// The topic is the address: a subscriber decides what a message means
// from its topic, and NormalizePayload turns whatever the publisher sent
// (value, pointer or JSON) into the payload type that topic carries.
//
// # Usage
//
//	b := bus.New()
//	sub := b.Subscribe(bus.Request(bus.EventConnect, bus.Wildcard), func(msg bus.Message) {
//	    p, err := bus.NormalizePayload(msg.Topic, msg.Payload)
//	    if err != nil {
//	        return
//	    }
//	    req := p.(bus.ConnectRequest)
//	    ...
//	})
//	defer sub.Unsubscribe()
//
//	b.Publish(bus.Response(bus.EventConnect, "sensor-7"), bus.ConnectResponse{...})
package bus
