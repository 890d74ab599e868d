package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/resilience"
	_ "github.com/lib/pq"
)

// pingTimeout bounds a single connectivity probe during startup.
const pingTimeout = 5 * time.Second

type Client struct {
	DB *sql.DB
}

// New opens a pool and waits for the server to answer a ping, retrying with
// backoff up to cfg.ConnectAttempts times so services can start alongside
// a database that is still booting.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitReady(ctx, db, cfg.ConnectAttempts); err != nil {
		db.Close()
		return nil, err
	}
	return &Client{DB: db}, nil
}

func waitReady(ctx context.Context, db *sql.DB, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}, func() error {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

// Wrap adopts an already opened handle, e.g. one backed by sqlmock in tests.
func Wrap(db *sql.DB) *Client {
	return &Client{DB: db}
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
