// Package auth provides token authentication for the bridge's HTTP API.
//
// Callers present an HS256 JWT signed with the configured secret. The
// token's role selects what the caller may do:
//   - client: open sessions through the websocket gateway, optionally
//     restricted to the identities listed in the token
//   - admin: everything a client may do plus session administration and
//     broker configuration management
//
// Permissions are a static role mapping; no database lookup is involved.
package auth
