package main

import (
	"context"
	"fmt"

	"kmp.org/internal/activities"
	"kmp.org/internal/config"
	"kmp.org/internal/directory"
	"kmp.org/internal/httpapi"
	"kmp.org/internal/obs"
	"kmp.org/internal/store/pg"
	"kmp.org/internal/store/sqlite"
)

// backend bundles a record store with what the CLI needs around it.
type backend struct {
	store  activities.Store
	sink   directory.Sink
	pinger httpapi.Pinger
	close  func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		mem := activities.NewInMemory()
		return &backend{
			store: mem,
			sink:  directory.MemorySink{Store: mem},
			close: func() error { return nil },
		}, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, obs.Logger())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &backend{store: s, sink: s, pinger: s, close: s.Close}, nil
	case config.StorePostgres:
		s, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &backend{store: s, sink: s, pinger: s, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// loadDirectory imports path into the backend when path is set.
func (b *backend) loadDirectory(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	f, err := directory.Load(path)
	if err != nil {
		return err
	}
	members, acts, err := f.Apply(ctx, b.sink)
	if err != nil {
		return err
	}
	obs.Logger().Info("directory loaded", "component", programName, "path", path, "members", members, "activities", acts)
	return nil
}
