// Package api provides the HTTP admin API and the WebSocket bus gateway
// for the MQTT bridge.
//
// REST endpoints under /api/v1 list and disconnect live sessions and
// manage the stored broker configurations. The gateway at /api/v1/ws lets
// a remote client speak the session bus protocol: it publishes connect,
// subscribe, unsubscribe, publish and acknowledgement messages and watches
// the responses for the sessions it opened.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every route except /health requires an HS256 bearer token (see package
// auth). Browsers that cannot set headers on WebSocket upgrades may pass
// the token as the "token" query parameter.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
