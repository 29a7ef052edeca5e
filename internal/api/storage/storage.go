package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/api/domain"
	"github.com/cuongbtq/amqp-jobs/internal/api/model"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) GetFailedJob(ctx context.Context, id string) (*model.FailedJob, error) {
	var job model.FailedJob
	query := `
		SELECT
			id, queue, message_id, payload,
			exception, reason, attempts, failed_at
		FROM failed_jobs
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFailedJobNotFound
		}
		return nil, fmt.Errorf("failed to get failed job: %w", err)
	}

	return &job, nil
}

func (s *Storage) DeleteFailedJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete failed job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrFailedJobNotFound
	}

	return nil
}

type FailedJobFilter struct {
	Queue    string
	PageSize int
	Cursor   *FailedJobCursor
}

type FailedJobCursor struct {
	FailedAt time.Time
	ID       string
}

// ListFailedJobs returns up to PageSize+1 rows, newest first, so the caller
// can tell whether another page exists
func (s *Storage) ListFailedJobs(ctx context.Context, filter FailedJobFilter) ([]model.FailedJob, error) {
	query := `
		SELECT
			id, queue, message_id, payload,
			exception, reason, attempts, failed_at
		FROM failed_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, filter.Queue)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (failed_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FailedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY failed_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.FailedJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	return jobs, nil
}
