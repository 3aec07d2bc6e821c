package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sagaflow/cmd/orchestrator/config"
	"sagaflow/internal/deadletter"
	sagadb "sagaflow/internal/db/saga"
	"sagaflow/internal/saga"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// buildStore selects the saga store backend: Postgres when a DSN is set,
// SQLite when a path is set, otherwise in-memory. Initialization failures fall
// through to the next backend rather than aborting startup.
func buildStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (saga.Store, func(), error) {
	cleanup := func() {}

	if cfg.PostgresDSN != "" {
		sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Warn("postgres open failed, trying next backend", zap.Error(err))
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			store, err := sagadb.NewPostgresStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				log.Warn("postgres init failed, trying next backend", zap.Error(err))
				_ = sqlDB.Close()
			} else {
				log.Info("postgres saga store enabled")
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						log.Warn("close postgres", zap.Error(err))
					}
				}
				return store, cleanup, nil
			}
		}
	}

	if cfg.SQLitePath != "" {
		sqlDB, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Warn("sqlite open failed, falling back to in-memory store", zap.Error(err))
		} else {
			// modernc.org/sqlite serializes through one connection.
			sqlDB.SetMaxOpenConns(1)
			store, err := sagadb.NewSQLiteStore(sqlDB)
			if err != nil {
				log.Warn("sqlite init failed, falling back to in-memory store", zap.Error(err))
				_ = sqlDB.Close()
			} else {
				log.Info("sqlite saga store enabled", zap.String("path", cfg.SQLitePath))
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						log.Warn("close sqlite", zap.Error(err))
					}
				}
				return store, cleanup, nil
			}
		}
	}

	log.Info("in-memory saga store enabled; state does not survive restarts")
	return saga.NewMemoryStore(), cleanup, nil
}

// buildDeadLetter selects the dead-letter sink: a Redis stream when a URL is
// configured, otherwise in-memory.
func buildDeadLetter(cfg config.DeadLetterConfig, log *zap.Logger) (deadletter.Sink, func()) {
	if cfg.RedisURL == "" {
		log.Info("in-memory dead-letter sink enabled")
		return deadletter.NewMemorySink(), func() {}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("redis url invalid, falling back to in-memory dead letters", zap.Error(err))
		return deadletter.NewMemorySink(), func() {}
	}

	client := redis.NewClient(opts)
	log.Info("redis dead-letter stream enabled", zap.String("stream", cfg.Stream))
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}
	return deadletter.NewRedisSink(client, cfg.Stream, cfg.MaxLen), cleanup
}
