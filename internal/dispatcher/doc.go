// Package dispatcher turns brokerConnect requests on the bus into running
// MQTT sessions.
//
// The dispatcher holds one standing subscription on brokerConnect/*/req.
// For every request it resolves the broker configuration for the
// requesting identity (unless the request carries one inline), seeds a new
// session.Session with it and runs the session on its own goroutine. The
// dispatcher never waits for the outcome: the session reports it on
// brokerConnect/<key>/res.
//
// Optional connect rate limiting (golang.org/x/time/rate) rejects bursts of
// connect requests with "connect rate limit exceeded" before any session is
// created.
//
// Stop unsubscribes from the bus and stops every live session: sessions
// that are already connected disconnect gracefully, sessions still
// connecting report "session stopped".
package dispatcher
