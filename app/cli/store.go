package cli

import (
	"context"
	"fmt"

	"tasktree/app/config"
	"tasktree/app/store"

	"github.com/charmbracelet/log"
)

// openStore connects to the configured backend and makes sure its schema exists.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		st, err = store.OpenSQLite(cfg.Storage.SQLite.Path)
	case config.DriverPostgres:
		st, err = store.OpenPostgres(ctx, cfg.Storage.Postgres.DSN)
	case config.DriverNeo4j:
		driver, derr := config.InitNeo4j(ctx, cfg.Storage.Neo4j)
		if derr != nil {
			return nil, derr
		}
		st = store.NewNeo4jStore(driver, cfg.Storage.Neo4j.Database)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.EnsureSchema(ctx); err != nil {
		st.Close(ctx)
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	logger.Debug("store ready", "driver", cfg.Storage.Driver)
	return st, nil
}
