package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/amqp-jobs/internal/api/model"
	"github.com/cuongbtq/amqp-jobs/internal/api/storage"
	"github.com/cuongbtq/amqp-jobs/internal/job"
)

// FailedJobStore reads and removes failed job records
type FailedJobStore interface {
	ListFailedJobs(ctx context.Context, filter storage.FailedJobFilter) ([]model.FailedJob, error)
	GetFailedJob(ctx context.Context, id string) (*model.FailedJob, error)
	DeleteFailedJob(ctx context.Context, id string) error
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Store        FailedJobStore
	Queue        job.Queue
	Codec        *job.Codec
	DefaultQueue string
	HealthChecks map[string]HealthCheck
}

// JobHandler dispatches new jobs
type JobHandler struct {
	logger       *slog.Logger
	queue        job.Queue
	codec        *job.Codec
	defaultQueue string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		queue:        deps.Queue,
		codec:        deps.Codec,
		defaultQueue: deps.DefaultQueue,
	}
}

// FailedJobHandler inspects, retries and removes failed jobs
type FailedJobHandler struct {
	logger *slog.Logger
	store  FailedJobStore
	queue  job.Queue
	codec  *job.Codec
}

// NewFailedJobHandler creates a new FailedJobHandler instance
func NewFailedJobHandler(deps *Dependencies) *FailedJobHandler {
	return &FailedJobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		queue:  deps.Queue,
		codec:  deps.Codec,
	}
}
