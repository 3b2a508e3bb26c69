package brokerconfig

import (
	"context"
	"fmt"
)

// Table resolves identities from an in-memory map with a default fallback.
//
// An identity entry is merged over Default, so entries only need the
// fields that differ (typically credentials).
type Table struct {
	Default    *Config
	Identities map[string]Config
}

// Resolve implements Resolver.
func (t *Table) Resolve(_ context.Context, identity string) (*Config, error) {
	if entry, ok := t.Identities[identity]; ok {
		return Merge(t.Default, &entry), nil
	}
	if t.Default != nil && t.Default.URL != "" {
		return t.Default.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
}
