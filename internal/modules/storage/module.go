package storage

import (
	"context"
	"fmt"
	"time"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/runner"
	"signal_bot/internal/store"
	"signal_bot/pkg/db"
	"signal_bot/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	pgMaxConns    = 4
	pgPingTimeout = 10 * time.Second
)

// New хранилище по STORE_DRIVER; схема создаётся при старте.
func New(lc fx.Lifecycle, cfg *config.Config) (store.Store, error) {
	ctx := context.Background()
	log := logger.Named("store")

	var (
		s   store.Store
		err error
	)
	switch cfg.Store.Driver {
	case store.DriverMemory:
		s = store.NewMemory()
	case store.DriverSQLite:
		s, err = store.NewSQLite(ctx, cfg.Store.SQLitePath)
	case store.DriverPostgres:
		pool, perr := db.NewPool(ctx, db.PoolConfig{
			DSN:         cfg.Store.DSN,
			MaxConns:    pgMaxConns,
			PingTimeout: pgPingTimeout,
		})
		if perr != nil {
			return nil, perr
		}
		s, err = store.NewPostgres(ctx, db.NewPgTxManager(pool))
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return s.Close() },
	})
	return s, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			New,
			func(s store.Store) runner.Archive { return s },
		),
	)
}
