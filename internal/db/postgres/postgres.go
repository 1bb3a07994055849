// Package postgres wires the pgx connection pool and owns the docs schema.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Config holds Postgres connection settings.
type Config struct {
	URL      string
	MaxConns int
}

// Pool wraps a pgx connection pool.
type Pool struct {
	*pgxpool.Pool
}

// New creates a connection pool. Each statement commits independently; no
// explicit transactions are used.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// WaitForReady polls Ping until the database responds or timeout expires.
func (p *Pool) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := p.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// EnsureSchema creates the docs table and its approximate nearest-neighbor
// index for the given embedding dimension. Idempotent; run by the ingest CLI.
func (p *Pool) EnsureSchema(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS docs (
			id          TEXT PRIMARY KEY,
			language    TEXT NOT NULL,
			domain      TEXT NOT NULL DEFAULT '',
			topic       TEXT NOT NULL DEFAULT '',
			text        TEXT NOT NULL,
			source      TEXT NOT NULL DEFAULT '',
			year        INT  NOT NULL DEFAULT 0,
			safety_tags TEXT[] NOT NULL DEFAULT '{}',
			embedding   VECTOR(%d)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS docs_embedding_idx
			ON docs USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS docs_language_idx ON docs (language)`,
		`CREATE INDEX IF NOT EXISTS docs_domain_idx ON docs (domain)`,
	}

	for _, stmt := range stmts {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
