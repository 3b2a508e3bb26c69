package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// Connection constants.
const (
	// defaultConnectTimeout is the paho dial timeout. It is longer than the
	// session connect timeout so the session decides when to give up.
	defaultConnectTimeout = 10 * time.Second

	// defaultKeepAlive is the keepalive interval when none is configured.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxReconnectInterval caps the backoff between reconnects.
	defaultMaxReconnectInterval = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// secureSchemes are URL schemes paho dials over TLS.
var secureSchemes = map[string]bool{
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
	"wss":   true,
}

// supportedSchemes are URL schemes paho can dial.
var supportedSchemes = map[string]bool{
	"tcp":   true,
	"mqtt":  true,
	"ws":    true,
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
	"wss":   true,
}

// buildClientOptions creates paho MQTT options for one session.
//
// This configures:
//   - Broker URL (validated; paho silently drops unparsable ones)
//   - Client ID and clean session flag from the session
//   - Authentication credentials (if provided)
//   - Keepalive and protocol version
//   - Auto-reconnect after the first successful connect, no connect retry
//   - Manual acknowledgement of inbound messages
//   - TLS configuration (for secure schemes or explicit TLS options)
//   - Last will (if the session has one)
func buildClientOptions(brokerURL string, opts session.ConnectOptions) (*pahomqtt.ClientOptions, error) {
	u, err := parseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}

	o := pahomqtt.NewClientOptions()
	o.AddBroker(u.String())

	// Client identification
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(opts.CleanSession)

	// Authentication (if credentials provided)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	o.SetKeepAlive(keepAlive)

	switch opts.ProtocolVersion {
	case 0:
	case 3, 4:
		o.SetProtocolVersion(opts.ProtocolVersion)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidProtocolVersion, opts.ProtocolVersion)
	}

	// The session reports a failed first attempt; paho only reconnects
	// connections that were established.
	o.SetConnectRetry(false)
	o.SetAutoReconnect(true)
	o.SetMaxReconnectInterval(defaultMaxReconnectInterval)
	o.SetConnectTimeout(defaultConnectTimeout)

	// Inbound messages are acknowledged once the client accepts them.
	o.SetAutoAckDisabled(true)

	if secureSchemes[u.Scheme] || opts.TLS != nil {
		tlsConfig, err := buildTLSConfig(opts.TLS)
		if err != nil {
			return nil, err
		}
		o.SetTLSConfig(tlsConfig)
	}

	if w := opts.Will; w != nil {
		if w.Topic == "" {
			return nil, fmt.Errorf("%w: will topic", ErrInvalidTopic)
		}
		o.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retain)
	}

	return o, nil
}

// parseBrokerURL checks that raw is an absolute URL with a scheme paho
// can dial.
func parseBrokerURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBrokerURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBrokerURL, err)
	}
	if !supportedSchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidBrokerURL)
	}
	return u, nil
}

// buildTLSConfig creates the TLS configuration from broker TLS options.
// A nil t yields the default configuration (system roots, TLS 1.2+).
func buildTLSConfig(t *brokerconfig.TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tlsMinVersion,
	}
	if t == nil {
		return cfg, nil
	}

	cfg.ServerName = t.ServerName
	cfg.InsecureSkipVerify = t.InsecureSkipVerify //nolint:gosec // explicit operator opt-in for test brokers

	caPEM, err := pemOrFile(t.CA, t.CAFile)
	if err != nil {
		return nil, err
	}
	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: no certificates in CA", ErrInvalidTLS)
		}
		cfg.RootCAs = pool
	}

	certPEM, err := pemOrFile(t.Cert, t.CertFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := pemOrFile(t.Key, t.KeyFile)
	if err != nil {
		return nil, err
	}
	if len(certPEM) > 0 || len(keyPEM) > 0 {
		if len(certPEM) == 0 || len(keyPEM) == 0 {
			return nil, fmt.Errorf("%w: client certificate and key must be given together", ErrInvalidTLS)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTLS, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// pemOrFile returns inline PEM if set, otherwise the contents of path.
func pemOrFile(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTLS, err)
	}
	return data, nil
}
