// Package brokerconfig resolves the MQTT broker configuration used by a
// session.
//
// A broker configuration is a connection URL plus transport options that
// are handed to the MQTT transport without interpretation (credentials,
// keepalive, TLS material, protocol version).
//
// Configuration is obtained lazily per session through a Source, which is
// either Static (one value for every identity) or Dynamic (a resolver
// invoked with the session identity). Dynamic resolvers provided here:
//
//   - Table: default configuration plus per-identity overrides from config.yaml
//   - Store: per-identity rows in the SQLite broker_configs table
//   - Breaker: wraps another resolver in a circuit breaker so a failing
//     backend fails fast instead of stalling every new session
//
// # Usage
//
//	table := &brokerconfig.Table{Default: &cfg.Broker, Identities: cfg.Identities}
//	src := brokerconfig.Dynamic(table)
//
//	bc, err := src.Resolve(ctx, "sensor-7")
//	if err != nil { ... }
//	if err := brokerconfig.Validate(bc); err != nil { ... } // "No valid configuration given"
package brokerconfig
