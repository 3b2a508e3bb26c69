package brokerconfig

import (
	"context"
	"fmt"
)

// Resolver returns the broker configuration for an identity.
type Resolver interface {
	Resolve(ctx context.Context, identity string) (*Config, error)
}

// ResolveFunc adapts a function to the Resolver interface.
type ResolveFunc func(ctx context.Context, identity string) (*Config, error)

// Resolve implements Resolver.
func (f ResolveFunc) Resolve(ctx context.Context, identity string) (*Config, error) {
	return f(ctx, identity)
}

// Source is where a session obtains its broker configuration: either a
// fixed value or a resolver called with the session identity.
// The zero Source resolves to nil, which fails validation.
type Source struct {
	static  *Config
	dynamic Resolver
}

// Static returns a Source that always yields a copy of cfg.
func Static(cfg *Config) Source {
	return Source{static: cfg.Clone()}
}

// Dynamic returns a Source backed by r.
func Dynamic(r Resolver) Source {
	return Source{dynamic: r}
}

// IsStatic reports whether the source holds a fixed value.
func (s Source) IsStatic() bool {
	return s.dynamic == nil
}

// Resolve returns a private copy of the configuration for identity.
//
// A resolver error is returned unchanged so its message reaches the bus
// as-is. A panicking resolver is reported as ErrResolverPanic.
func (s Source) Resolve(ctx context.Context, identity string) (cfg *Config, err error) {
	if s.dynamic == nil {
		return s.static.Clone(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			cfg = nil
			err = fmt.Errorf("%w: %v", ErrResolverPanic, r)
		}
	}()

	resolved, err := s.dynamic.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	return resolved.Clone(), nil
}
