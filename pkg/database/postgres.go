package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB wraps the database connection pool
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// EnsureVectorExtension ensures the pgvector extension is installed
func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	return err
}

// CreateCollection creates the chunk table for a knowledge collection.
// The caller validates the name; it is quoted here regardless.
func (db *PostgresDB) CreateCollection(ctx context.Context, name string, dimension int) error {
	table := pgx.Identifier{name}.Sanitize()
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table, dimension)

	if _, err := db.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	// HNSW supports up to 2000 dimensions; above that we fall back to exact search.
	if dimension <= 2000 {
		indexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, pgx.Identifier{name + "_embedding_idx"}.Sanitize(), table)
		if _, err := db.Pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", name, err)
		}
	}

	sourceIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ((metadata->>'source'))`,
		pgx.Identifier{name + "_source_idx"}.Sanitize(), table)
	if _, err := db.Pool.Exec(ctx, sourceIndex); err != nil {
		return fmt.Errorf("failed to create source index on %s: %w", name, err)
	}

	return nil
}
