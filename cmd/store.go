package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/catalog"
	"github.com/sells-group/ddi-catalog/internal/resilience"
	"github.com/sells-group/ddi-catalog/internal/searchindex"
	"github.com/sells-group/ddi-catalog/internal/store"
)

const defaultSQLitePath = "ddi.db"

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initSearch returns the index synchronizer, or nil when no cluster is
// configured.
func initSearch(st searchindex.Store) (*searchindex.Synchronizer, error) {
	if !cfg.Search.Enabled() {
		return nil, nil
	}

	es, err := searchindex.NewClient(searchindex.ClientConfig{
		Addresses: cfg.Search.Addresses,
		Username:  cfg.Search.Username,
		Password:  cfg.Search.Password,
		Timeout:   cfg.Search.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	retry := resilience.FromRetryConfig(cfg.Search.MaxRetries, 0, 0)
	return searchindex.New(es, st,
		searchindex.WithIndex(cfg.Search.Index),
		searchindex.WithRefresh(cfg.Search.Refresh),
		searchindex.WithBatchSize(cfg.Search.BulkSize),
		searchindex.WithRetry(retry),
		searchindex.WithBreaker(resilience.FromCircuitConfig("search", cfg.Search.CircuitFailures, cfg.Search.CircuitResetSecs)),
		searchindex.WithRateLimit(cfg.Search.BulkRate),
	), nil
}

// requireSearch is initSearch for commands that cannot run without an index.
func requireSearch(st searchindex.Store) (*searchindex.Synchronizer, error) {
	if err := cfg.Validate("search"); err != nil {
		return nil, err
	}
	return initSearch(st)
}

// newCatalog builds the catalog service; index cleanup is skipped when no
// cluster is configured.
func newCatalog(st store.Store, sync *searchindex.Synchronizer) *catalog.Service {
	if sync == nil {
		return catalog.New(st, nil)
	}
	return catalog.New(st, sync)
}

// commandTimeout bounds one-shot index maintenance commands.
const commandTimeout = 30 * time.Minute
