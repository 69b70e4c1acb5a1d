package storage

import (
	"context"
	"fmt"
)

// Factory opens an Adapter for one dialect given a resolved ConnConfig.
// backendRegistry maps each dialect to its factory (all three call
// Connect), so selecting a backend by name never needs a type switch at
// the call site.
type Factory func(ctx context.Context, cfg ConnConfig) (*Adapter, error)

var backendRegistry = map[Dialect]Factory{
	DialectSQLite: func(ctx context.Context, cfg ConnConfig) (*Adapter, error) {
		return Connect(ctx, cfg)
	},
	DialectMySQL: func(ctx context.Context, cfg ConnConfig) (*Adapter, error) {
		return Connect(ctx, cfg)
	},
	DialectPostgres: func(ctx context.Context, cfg ConnConfig) (*Adapter, error) {
		return Connect(ctx, cfg)
	},
}

// RegisterBackend overrides the factory used for a dialect, letting tests
// substitute an in-memory or otherwise instrumented Adapter without
// touching call sites that go through Open.
func RegisterBackend(d Dialect, f Factory) {
	backendRegistry[d] = f
}

// Open resolves cfg.Dialect through the registry and returns a ready
// Adapter with Initialize already applied.
func Open(ctx context.Context, cfg ConnConfig) (*Adapter, error) {
	factory, ok := backendRegistry[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("no factory registered for dialect %v", cfg.Dialect)
	}
	a, err := factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing connection: %w", err)
	}
	return a, nil
}

// OpenAndMigrate opens cfg's dialect, runs every migration in order, and
// verifies the resulting schema before returning — the full startup
// sequence the control flow describes for the Database Adapter and
// Schema & Migration Runner components.
func OpenAndMigrate(ctx context.Context, cfg ConnConfig, required []RequiredTable) (*Adapter, error) {
	a, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, a, AllMigrations()); err != nil {
		a.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := VerifyIntegrity(ctx, a, required); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
