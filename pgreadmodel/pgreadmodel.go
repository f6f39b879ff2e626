// Package pgreadmodel is a readmodel.ClientFactory backed by PostgreSQL:
// each read model's namespace becomes its own table, so re-projecting a
// read model from scratch after a handler/initializer change maps onto
// dropping and recreating the namespace's table. Grounded on
// internal/storage/postgres/adapter.go's pgx/v5/stdlib-backed Adapter from
// the teacher, reused here almost verbatim as the pooled connection this
// package's clients share.
package pgreadmodel

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/emilniklas/sequent/casing"
	"github.com/emilniklas/sequent/readmodel"
)

// Config mirrors the teacher's postgres.Config.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Pool wraps a pgx-backed *sql.DB, grounded on the teacher's Adapter.
type Pool struct {
	db *sql.DB
}

// Open opens a connection pool, mirroring the teacher's NewAdapter.
func Open(cfg Config) (*Pool, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Pool{db: db}, nil
}

// Ping checks the connection, mirroring the teacher's Adapter.Ping.
func (p *Pool) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Close closes the pool, mirroring the teacher's Adapter.Close.
func (p *Pool) Close() error { return p.db.Close() }

// Client is what a read model's handlers/initializers receive as their
// client interface{} value: a table named after the namespace, holding
// one JSONB document per projected key, plus the raw pool for handlers
// that need their own schema.
type Client struct {
	DB    *sql.DB
	Table string
}

// Put upserts value as the document for key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.DB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, c.Table),
		key, value)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", c.Table, err)
	}
	return nil
}

// Get reads the document stored for key, returning (nil, false) on miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, c.Table), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", c.Table, err)
	}
	return value, true, nil
}

// Remove deletes the document stored for key.
func (c *Client) Remove(ctx context.Context, key string) error {
	_, err := c.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, c.Table), key)
	return err
}

// Exec, QueryRow, and Query are escape hatches for handlers that need
// their own tables within the namespace's table name prefix.
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// NewClientFactory builds a readmodel.ClientFactory whose Make creates (if
// absent) a namespaced projection table and returns a *Client over it, so
// re-projecting from scratch (spec §4.7) is a `DROP TABLE` followed by a
// fresh Make.
func NewClientFactory(pool *Pool, namingConvention casing.Policy, suffixSeparator string) readmodel.ClientFactory {
	return readmodel.ClientFactory{
		NamingConvention: namingConvention,
		SuffixSeparator:  suffixSeparator,
		Make: func(ctx context.Context, namespace string) (interface{}, error) {
			table := quoteIdent(namespace)
			_, err := pool.db.ExecContext(ctx, fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value JSONB NOT NULL)`, table))
			if err != nil {
				return nil, fmt.Errorf("create namespace table: %w", err)
			}
			return &Client{DB: pool.db, Table: table}, nil
		},
		Dispose: func(ctx context.Context, client interface{}) error {
			return nil
		},
	}
}

// DropNamespace drops a namespace's projection table entirely, the
// operation spec §4.7 describes as re-projecting a read model from
// scratch.
func DropNamespace(ctx context.Context, pool *Pool, namespace string) error {
	_, err := pool.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(namespace)))
	return err
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
