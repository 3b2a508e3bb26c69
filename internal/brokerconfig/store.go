package brokerconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists per-identity broker configuration in the SQLite
// broker_configs table (see migrations/).
//
// Thread Safety:
//   - All methods are safe for concurrent use; serialisation is left to
//     database/sql.
type Store struct {
	db       *sql.DB
	fallback *Config
}

// NewStore creates a Store over an open database with migrations applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetFallback sets the configuration merged under every stored row and
// returned for identities without a row. Nil disables the fallback.
func (s *Store) SetFallback(cfg *Config) {
	s.fallback = cfg.Clone()
}

// Get returns the stored configuration for identity.
//
// Returns:
//   - *Config: the stored row (no fallback applied)
//   - error: ErrNotFound if no row exists
func (s *Store) Get(ctx context.Context, identity string) (*Config, error) {
	var (
		cfg       Config
		keepAlive int64
		tlsJSON   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, username, password, keep_alive_seconds, protocol_version, tls_json
		FROM broker_configs
		WHERE identity = ?`,
		identity,
	).Scan(&cfg.URL, &cfg.Username, &cfg.Password, &keepAlive, &cfg.ProtocolVersion, &tlsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("querying broker config: %w", err)
	}

	cfg.KeepAlive = time.Duration(keepAlive) * time.Second
	if tlsJSON.Valid && tlsJSON.String != "" {
		var tlsOpts TLSOptions
		if err := json.Unmarshal([]byte(tlsJSON.String), &tlsOpts); err != nil {
			return nil, fmt.Errorf("decoding tls options for %q: %w", identity, err)
		}
		cfg.TLS = &tlsOpts
	}
	return &cfg, nil
}

// Put creates or replaces the configuration for identity.
func (s *Store) Put(ctx context.Context, identity string, cfg Config) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", ErrUnknownIdentity)
	}
	if err := Validate(&cfg); err != nil {
		return err
	}

	var tlsJSON sql.NullString
	if cfg.TLS != nil {
		data, err := json.Marshal(cfg.TLS)
		if err != nil {
			return fmt.Errorf("encoding tls options: %w", err)
		}
		tlsJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_configs
			(identity, url, username, password, keep_alive_seconds, protocol_version, tls_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			url = excluded.url,
			username = excluded.username,
			password = excluded.password,
			keep_alive_seconds = excluded.keep_alive_seconds,
			protocol_version = excluded.protocol_version,
			tls_json = excluded.tls_json,
			updated_at = excluded.updated_at`,
		identity, cfg.URL, cfg.Username, cfg.Password,
		int64(cfg.KeepAlive/time.Second), cfg.ProtocolVersion, tlsJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("storing broker config: %w", err)
	}
	return nil
}

// Delete removes the configuration for identity.
//
// Returns:
//   - error: ErrNotFound if no row existed
func (s *Store) Delete(ctx context.Context, identity string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM broker_configs WHERE identity = ?", identity)
	if err != nil {
		return fmt.Errorf("deleting broker config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting broker config: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	return nil
}

// List returns all stored identities in ascending order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT identity FROM broker_configs ORDER BY identity")
	if err != nil {
		return nil, fmt.Errorf("listing broker configs: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scanning broker config row: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating broker configs: %w", err)
	}
	return identities, nil
}

// Resolve implements Resolver. Stored rows are merged over the fallback;
// identities without a row get the fallback, or ErrUnknownIdentity when
// no fallback is set.
func (s *Store) Resolve(ctx context.Context, identity string) (*Config, error) {
	cfg, err := s.Get(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		if s.fallback != nil && s.fallback.URL != "" {
			return s.fallback.Clone(), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
	}
	if err != nil {
		return nil, err
	}
	return Merge(s.fallback, cfg), nil
}
