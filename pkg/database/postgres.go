package database

import (
	"context"
	"fmt"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultConnAttempts = 3

// Postgres wraps the connection pool together with the transactor so
// repositories can participate in shared transactions via the context.
type Postgres struct {
	Pool       *pgxpool.Pool
	DBGetter   tx.DBGetter
	Transactor *tx.Transactor

	maxPoolSize       int32
	connTimeout       time.Duration
	healthCheckPeriod time.Duration
}

// Option configures the pool before it is created.
type Option func(*Postgres)

func MaxPoolSize(size int32) Option {
	return func(p *Postgres) {
		p.maxPoolSize = size
	}
}

func ConnTimeout(seconds int) Option {
	return func(p *Postgres) {
		p.connTimeout = time.Duration(seconds) * time.Second
	}
}

func HealthCheckPeriod(seconds int) Option {
	return func(p *Postgres) {
		p.healthCheckPeriod = time.Duration(seconds) * time.Second
	}
}

// New connects to Postgres and wires the transactor over the pool.
func New(databaseURL string, opts ...Option) (*Postgres, error) {
	pg := &Postgres{
		maxPoolSize:       10,
		connTimeout:       5 * time.Second,
		healthCheckPeriod: time.Minute,
	}

	for _, opt := range opts {
		opt(pg)
	}

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	poolConfig.MaxConns = pg.maxPoolSize
	poolConfig.ConnConfig.ConnectTimeout = pg.connTimeout
	poolConfig.HealthCheckPeriod = pg.healthCheckPeriod

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= defaultConnAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg.Pool = pool
	pg.Transactor, pg.DBGetter = tx.NewTransactorFromPool(pool)

	return pg, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
