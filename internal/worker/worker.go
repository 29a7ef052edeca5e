package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultReleaseTimeout = 30 * time.Second
	defaultMaxTries       = 3
)

// Consumer is the part of the RabbitMQ client the worker consumes through
type Consumer interface {
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// FailureRecorder stores jobs the worker gave up on
type FailureRecorder interface {
	RecordFailure(ctx context.Context, job *domain.FailedJob) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Consumer      Consumer
	Queue         job.Queue
	Codec         *job.Codec
	Registry      *Registry
	Failures      FailureRecorder
	QueueName     string
	ConsumerTag   string
	PrefetchCount int
	Concurrency   int
	JobTimeout    time.Duration
	// MaxTries applies to jobs whose payload carries no maxTries
	MaxTries         uint
	Backoff          Backoff
	PublishBeforeAck bool
	ReleaseTimeout   time.Duration
}

// Worker consumes job messages from one queue and runs them on a pool of goroutines
type Worker struct {
	workerID       string
	logger         *slog.Logger
	consumer       Consumer
	queue          job.Queue
	codec          *job.Codec
	registry       *Registry
	failures       FailureRecorder
	queueName      string
	consumerTag    string
	prefetchCount  int
	concurrency    int
	jobTimeout     time.Duration
	maxTries       uint
	backoff        Backoff
	releaseTimeout time.Duration
	handleOpts     []job.HandleOption

	jobsChan chan *job.Handle
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	workerID := "worker-" + uuid.NewString()
	consumerTag := cfg.ConsumerTag
	if consumerTag == "" {
		consumerTag = workerID
	} else {
		consumerTag = fmt.Sprintf("%s-%s", consumerTag, workerID)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = defaultMaxTries
	}

	releaseTimeout := cfg.ReleaseTimeout
	if releaseTimeout <= 0 {
		releaseTimeout = defaultReleaseTimeout
	}

	logger = logger.With(slog.String("worker_id", workerID))

	opts := []job.HandleOption{job.WithLogger(logger)}
	if cfg.PublishBeforeAck {
		opts = append(opts, job.WithPublishBeforeAck())
	}

	return &Worker{
		workerID:       workerID,
		logger:         logger,
		consumer:       cfg.Consumer,
		queue:          cfg.Queue,
		codec:          cfg.Codec,
		registry:       cfg.Registry,
		failures:       cfg.Failures,
		queueName:      cfg.QueueName,
		consumerTag:    consumerTag,
		prefetchCount:  prefetch,
		concurrency:    concurrency,
		jobTimeout:     cfg.JobTimeout,
		maxTries:       maxTries,
		backoff:        cfg.Backoff,
		releaseTimeout: releaseTimeout,
		handleOpts:     opts,
		jobsChan:       make(chan *job.Handle),
		stopChan:       make(chan struct{}),
		now:            time.Now,
	}
}

// ID returns the worker id
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes and processes jobs until ctx is canceled or the delivery
// channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("queue", w.queueName),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Uint64("max_tries", uint64(w.maxTries)),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop signals the pool to exit and waits up to timeout for in-flight jobs
func (w *Worker) Stop(timeout time.Duration) error {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker did not stop within %s", timeout)
	}
}
