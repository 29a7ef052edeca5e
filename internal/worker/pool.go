package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
	"github.com/google/uuid"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	logger := w.logger.With(slog.Int("worker_num", workerNum))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return

		case h := <-w.jobsChan:
			w.handleJob(ctx, logger, h)
		}
	}
}

// handleJob runs one job and settles its delivery: delete on success,
// release or record as failed otherwise
func (w *Worker) handleJob(ctx context.Context, logger *slog.Logger, h *job.Handle) {
	logger = logger.With(
		slog.String("queue", h.Queue()),
		slog.Uint64("delivery_tag", h.DeliveryTag()),
	)
	if id, err := h.ID(); err == nil {
		logger = logger.With(slog.String("message_id", id))
	}

	err := w.processJob(ctx, h)
	if err == nil {
		if delErr := h.Delete(); delErr != nil {
			logger.Error("Failed to delete completed job", slog.Any("error", delErr))
			return
		}
		logger.Info("Job completed successfully")
		return
	}

	logger.Warn("Job processing failed", slog.Any("error", err))
	w.handleFailure(ctx, logger, h, err)
}

func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, h *job.Handle, jobErr error) {
	attempts, decodeErr := h.Attempts()
	if decodeErr != nil {
		w.fail(ctx, logger, h, domain.ReasonUndecodable, jobErr, 0)
		return
	}

	if isPermanent(jobErr) {
		w.fail(ctx, logger, h, domain.ReasonPermanent, jobErr, attempts+1)
		return
	}

	maxTries := w.maxTries
	if limit, ok := h.MaxTries(); ok && limit > 0 {
		maxTries = limit
	}

	// attempts counts earlier releases, so this run was try attempts+1
	if attempts+1 >= maxTries {
		w.fail(ctx, logger, h, domain.ReasonMaxTries, jobErr, attempts+1)
		return
	}

	w.release(ctx, logger, h, attempts)
}

func (w *Worker) release(ctx context.Context, logger *slog.Logger, h *job.Handle, attempts uint) {
	delay := w.backoff.Delay(attempts)

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.releaseTimeout)
	defer cancel()

	err := h.Release(relCtx, delay)
	if err == nil {
		logger.Info("Job released for retry",
			slog.Uint64("attempts", uint64(attempts+1)),
			slog.Duration("delay", delay),
		)
		return
	}

	switch {
	case errors.Is(err, job.ErrAckFailed):
		// the channel is gone, the broker redelivers the original
		logger.Error("Failed to acknowledge released job", slog.Any("error", err))

	case h.State() == job.StateReleased:
		// acked but not republished: the broker no longer has the job
		_ = w.record(ctx, logger, h, domain.ReasonReleaseLost, err, attempts+1)

	case h.State() == job.StateDelivered:
		logger.Error("Failed to release job, requeueing delivery", slog.Any("error", err))
		if reqErr := h.Requeue(); reqErr != nil {
			logger.Error("Failed to requeue job", slog.Any("error", reqErr))
		}

	default:
		logger.Error("Failed to release job",
			slog.String("state", h.State().String()),
			slog.Any("error", err),
		)
	}
}

// fail records the job as failed and removes it from the queue. When the
// record cannot be written the job is released instead so it is not lost.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, h *job.Handle, reason string, jobErr error, attempts uint) {
	if err := w.record(ctx, logger, h, reason, jobErr, attempts); err != nil && reason != domain.ReasonUndecodable {
		w.release(ctx, logger, h, attempts)
		return
	}

	if err := h.Delete(); err != nil {
		logger.Error("Failed to delete failed job", slog.Any("error", err))
		return
	}

	logger.Warn("Job failed permanently",
		slog.String("reason", reason),
		slog.Uint64("attempts", uint64(attempts)),
	)
}

func (w *Worker) record(ctx context.Context, logger *slog.Logger, h *job.Handle, reason string, jobErr error, attempts uint) error {
	if w.failures == nil {
		return nil
	}

	messageID, _ := h.ID()
	failed := &domain.FailedJob{
		ID:        uuid.NewString(),
		Queue:     h.Queue(),
		MessageID: messageID,
		Payload:   h.Body(),
		Exception: jobErr.Error(),
		Reason:    reason,
		Attempts:  attempts,
		FailedAt:  w.now().UTC(),
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.releaseTimeout)
	defer cancel()

	if err := w.failures.RecordFailure(recCtx, failed); err != nil {
		logger.Error("Failed to record failed job",
			slog.String("reason", reason),
			slog.String("payload", string(h.Body())),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to record failed job: %w", err)
	}

	return nil
}

// isPermanent reports whether retrying err cannot succeed
func isPermanent(err error) bool {
	if errors.Is(err, job.ErrDecode) {
		return true
	}

	if errors.Is(err, domain.ErrHandlerNotFound) {
		return true
	}

	var permanentErr *domain.PermanentError
	return errors.As(err, &permanentErr)
}
