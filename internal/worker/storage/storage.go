package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// RecordFailure inserts a failed job
func (s *Storage) RecordFailure(ctx context.Context, job *domain.FailedJob) error {
	query := `
		INSERT INTO failed_jobs (
			id, queue, message_id, payload,
			exception, reason, attempts, failed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Queue,
		job.MessageID,
		job.Payload,
		job.Exception,
		job.Reason,
		int64(job.Attempts),
		job.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record failed job: %w", err)
	}

	s.logger.Info("Failed job recorded",
		slog.String("id", job.ID),
		slog.String("queue", job.Queue),
		slog.String("reason", job.Reason),
	)

	return nil
}
