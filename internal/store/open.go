package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Options selects a backend. PostgreSQL wins over SQLite; with neither set
// the store is in-memory.
type Options struct {
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration
	AutoMigrate bool
}

// Open builds the configured Store. The returned cleanup closes every
// connection Open created and is safe to call on error paths.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	var st Store
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case opts.DatabaseURL != "":
		if opts.AutoMigrate {
			if err := Migrate(opts.DatabaseURL); err != nil {
				return nil, closeAll, err
			}
		}
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("store.Open: database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	case opts.SQLitePath != "":
		sq, err := NewSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, closeAll, err
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("opened SQLite store", "path", opts.SQLitePath)
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		return NewMemoryStore(), closeAll, nil
	}

	// Wrap with Redis read-through cache if configured.
	if opts.RedisURL != "" {
		opt, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("store.Open: invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = NewCachedStore(st, rdb, opts.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", opts.CacheTTL)
	}
	return st, closeAll, nil
}
