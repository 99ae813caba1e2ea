package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/CTAG07/Mimicry/pkg/engine"
	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/pool"
	"github.com/CTAG07/Mimicry/pkg/store"
)

// openStore opens the configured store. The returned function releases it.
func openStore(config *Config, logger *slog.Logger) (store.Store, func(), error) {
	switch config.Store.Driver {
	case storeDriverFile:
		fs, err := store.NewFileStore(config.Store.FileDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		fs.SetLogger(logger)
		return fs, func() {}, nil

	default:
		if err := os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		db, err := initDB(config.Store.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err = store.SetupSchema(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to set up model schema: %w", err)
		}
		sqlStore, err := store.NewSQLStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		sqlStore.SetLogger(logger)
		release := func() {
			sqlStore.Close()
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		}
		return sqlStore, release, nil
	}
}

// newEngine builds the pool and engine on top of s.
func newEngine(config *Config, logger *slog.Logger, s store.Store) *engine.Engine {
	p := pool.New(s,
		pool.WithTTL(config.Pool.TTL()),
		pool.WithLogger(logger),
		pool.WithErrorHandler(func(op string, id markov.Identity, err error) {
			logger.Warn("Model pool operation failed",
				slog.String("op", op),
				slog.String("identity", id.String()),
				slog.String("error", err.Error()),
			)
		}),
	)
	return engine.New(p,
		engine.WithLogger(logger),
		engine.WithMaxSteps(config.Generation.MaxGenerateSteps),
	)
}
