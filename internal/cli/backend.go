package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/clucraft/phusage-sub000/internal/api"
	"github.com/clucraft/phusage-sub000/internal/config"
	"github.com/clucraft/phusage-sub000/internal/database"
	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/report"
	"github.com/clucraft/phusage-sub000/internal/sqlitedb"
	"github.com/clucraft/phusage-sub000/internal/store"
	"github.com/clucraft/phusage-sub000/internal/store/memory"
	"github.com/clucraft/phusage-sub000/pkg/cache"
)

var version = api.Version

// openStore connects the configured backend. PostgreSQL is migrated on open.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store {
	case config.StorePostgres:
		logger.MainLog.Infof("connecting to %s", c.RedactedDSN())
		db, err := database.New(ctx, c.DSN())
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.Migrate(migrateCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case config.StoreSQLite:
		logger.MainLog.Infof("opening sqlite database %s", c.SQLitePath)
		db, err := sqlitedb.New(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.StoreMemory:
		logger.MainLog.Warn("using the in-memory store: data is lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("store driver unsupported: %q", c.Store)
}

// openEstimates picks where saved estimates live: Redis when reachable,
// otherwise the SQLite database when that is the store, otherwise memory.
// The returned cache is nil when Redis is not in use.
func openEstimates(ctx context.Context, c *config.Config, st store.Store) (store.EstimateStore, *cache.Cache) {
	if c.RedisEnabled() {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := cache.NewCache(dialCtx, c.RedisAddr(), c.RedisPassword, c.RedisDB)
		if err == nil {
			return rc, rc
		}
		logger.MainLog.Warnf("Redis unavailable (%v): rate limiting disabled", err)
	}
	if es, ok := st.(store.EstimateStore); ok {
		logger.MainLog.Info("saved estimates stored in the database")
		return es, nil
	}
	logger.MainLog.Warn("saved estimates kept in memory only")
	return memory.NewEstimateStore(), nil
}

// withService opens the store, runs fn with a report service and closes the
// store afterwards.
func withService(ctx context.Context, fn func(svc *report.Service) error) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.StoreLog.Warnf("closing store: %v", err)
		}
	}()
	return fn(report.New(st, cfg.AggregateWorkers))
}
