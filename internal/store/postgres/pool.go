// Package postgres persists the lot layout, bookings and sessions in
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v5"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"smart-parking/internal/logging"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type PoolConfig struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// NewPool opens a traced connection pool and retries the first ping with
// exponential backoff until ConnectTimeout elapses, so the service can start
// before the database is ready.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}

	dbName := "parking"
	if config.ConnConfig.Database != "" {
		dbName = config.ConnConfig.Database
	}
	config.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
		otelpgx.WithDisableQuerySpanNamePrefix(),
		otelpgx.WithSpanNameFunc(func(stmt string) string {
			fields := strings.Fields(stmt)
			if len(fields) == 0 {
				return dbName
			}
			return dbName + " " + strings.ToUpper(fields[0])
		}),
	)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logging.Warn(ctx, "database not ready",
				"attempt", attempt,
				"error", err,
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
