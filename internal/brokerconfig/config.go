package brokerconfig

import "time"

// Config is the broker configuration for one session.
//
// URL is the only required field. Everything in Options is forwarded to
// the transport; URL is extracted by the session before connecting and is
// never part of the transport options.
type Config struct {
	URL string `yaml:"url" json:"url"`

	Options `yaml:",inline"`
}

// Options are the transport options passed through to the MQTT client.
type Options struct {
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// KeepAlive is the MQTT keepalive interval. Zero uses the transport default.
	KeepAlive time.Duration `yaml:"keep_alive,omitempty" json:"keepAlive,omitempty"`

	// ProtocolVersion selects MQTT 3.1 (3) or 3.1.1 (4). Zero lets the
	// transport negotiate.
	ProtocolVersion uint `yaml:"protocol_version,omitempty" json:"protocolVersion,omitempty"`

	TLS *TLSOptions `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSOptions carries TLS material either inline (PEM) or as file paths.
// Inline PEM takes precedence over the corresponding file.
type TLSOptions struct {
	CA       string `yaml:"ca,omitempty" json:"ca,omitempty"`
	Cert     string `yaml:"cert,omitempty" json:"cert,omitempty"`
	Key      string `yaml:"key,omitempty" json:"key,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty" json:"caFile,omitempty"`
	CertFile string `yaml:"cert_file,omitempty" json:"certFile,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty" json:"keyFile,omitempty"`

	ServerName         string `yaml:"server_name,omitempty" json:"serverName,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// Validate checks that cfg is usable by a session.
//
// Returns:
//   - error: ErrNoValidConfig if cfg is nil or has no URL
func Validate(cfg *Config) error {
	if cfg == nil || cfg.URL == "" {
		return ErrNoValidConfig
	}
	return nil
}

// Clone returns a deep copy of cfg. A nil receiver returns nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.TLS != nil {
		tlsCopy := *c.TLS
		out.TLS = &tlsCopy
	}
	return &out
}

// TakeURL returns the connection URL and removes it from the configuration,
// leaving only the transport options behind.
func (c *Config) TakeURL() string {
	url := c.URL
	c.URL = ""
	return url
}

// Merge returns a copy of base with every non-zero field of override applied.
// Either argument may be nil.
func Merge(base, override *Config) *Config {
	if override == nil {
		return base.Clone()
	}
	if base == nil {
		return override.Clone()
	}

	out := base.Clone()
	if override.URL != "" {
		out.URL = override.URL
	}
	if override.Username != "" {
		out.Username = override.Username
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	if override.KeepAlive != 0 {
		out.KeepAlive = override.KeepAlive
	}
	if override.ProtocolVersion != 0 {
		out.ProtocolVersion = override.ProtocolVersion
	}
	if override.TLS != nil {
		tlsCopy := *override.TLS
		out.TLS = &tlsCopy
	}
	return out
}
