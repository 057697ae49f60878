package main

import (
	"context"
	"fmt"

	"github.com/collabhub/collabhub/server/internal/config"
	"github.com/collabhub/collabhub/server/internal/store"
	"github.com/collabhub/collabhub/server/internal/store/mongostore"
	"github.com/collabhub/collabhub/server/internal/store/sqlstore"
)

// openStorage connects the backend named by cfg.Backend.
func openStorage(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "mongo":
		uri := cfg.URI()
		if uri == "" {
			return nil, fmt.Errorf("storage: %s is not set", cfg.URIEnv)
		}
		mcfg := mongostore.DefaultConfig()
		mcfg.URI = uri
		mcfg.Database = cfg.Database
		s, err := mongostore.Open(ctx, mcfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		return openSQL(ctx, sqlstore.SQLite, cfg.Path)
	case "postgres":
		dsn := cfg.URI()
		if dsn == "" {
			return nil, fmt.Errorf("storage: %s is not set", cfg.URIEnv)
		}
		return openSQL(ctx, sqlstore.Postgres, dsn)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

func openSQL(ctx context.Context, d sqlstore.Dialect, dsn string) (store.Store, error) {
	s, err := sqlstore.Open(ctx, d, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
