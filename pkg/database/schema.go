package database

import (
	"context"
	"fmt"
)

// InitSchema creates the knowledge ingest bookkeeping tables.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	jobsQuery := `
		CREATE TABLE IF NOT EXISTS ingest_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source TEXT NOT NULL,
			collection TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			chunks INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, jobsQuery); err != nil {
		return fmt.Errorf("failed to create ingest_jobs table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS ingest_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES ingest_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create ingest_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_ingest_logs_job_id ON ingest_logs(job_id)"); err != nil {
		return fmt.Errorf("failed to create index on ingest_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_ingest_jobs_created_at ON ingest_jobs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on ingest_jobs: %w", err)
	}

	return nil
}
