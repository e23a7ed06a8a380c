package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/research-chat/pkg/database"
	"github.com/mikeboe/research-chat/pkg/ingest"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidSource = errors.New("source must be an http or https URL")
)

const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Service runs knowledge ingest jobs in the background and records their
// progress in Postgres.
type Service struct {
	DB         *database.PostgresDB
	Pipeline   *ingest.Pipeline
	Collection string
	Timeout    time.Duration
}

func NewService(db *database.PostgresDB, pipeline *ingest.Pipeline, collection string) *Service {
	return &Service{
		DB:         db,
		Pipeline:   pipeline,
		Collection: collection,
		Timeout:    10 * time.Minute,
	}
}

type Job struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	Collection string    `json:"collection"`
	Status     string    `json:"status"`
	Chunks     int       `json:"chunks"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateJobRequest struct {
	Source string `json:"source"`
}

// ValidateSource normalizes and checks a job source URL.
func ValidateSource(raw string) (string, error) {
	source := strings.TrimSpace(raw)
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidSource
	}
	return source, nil
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	source, err := ValidateSource(req.Source)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ingest_jobs (id, source, collection, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, source, collection, status, chunks, error, created_at, updated_at
	`

	job := &Job{}
	err = s.DB.Pool.QueryRow(ctx, query, uuid.New(), source, s.Collection).Scan(
		&job.ID, &job.Source, &job.Collection, &job.Status, &job.Chunks, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go s.runWorker(job.ID, source)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, source, collection, status, chunks, error, created_at, updated_at
		FROM ingest_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Source, &job.Collection, &job.Status, &job.Chunks, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, source, collection, status, chunks, error, created_at, updated_at
		FROM ingest_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Source, &job.Collection, &job.Status, &job.Chunks, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type LogEntry struct {
	ID        int            `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM ingest_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Service) runWorker(jobID uuid.UUID, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE ingest_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID, slog.Default().Handler()))

	chunks, err := s.Pipeline.WithLogger(dbLogger).Run(ctx, source)
	if err != nil {
		s.failJob(ctx, dbLogger, jobID, err)
		return
	}

	_, err = s.DB.Pool.Exec(ctx,
		"UPDATE ingest_jobs SET status = 'completed', chunks = $2, updated_at = NOW() WHERE id = $1",
		jobID, chunks)
	if err != nil {
		dbLogger.Error("Failed to mark job completed", "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, cause error) {
	logger.Error("Ingest failed", "error", cause)

	// The job context may already be expired.
	_, err := s.DB.Pool.Exec(context.WithoutCancel(ctx),
		"UPDATE ingest_jobs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1",
		jobID, cause.Error())
	if err != nil {
		slog.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}
