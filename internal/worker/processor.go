package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
)

// processJob decodes the command and runs its handler under the job timeout
func (w *Worker) processJob(ctx context.Context, h *job.Handle) error {
	cmd, err := h.Command()
	if err != nil {
		return err
	}

	name := cmd.CommandName()
	handler, ok := w.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, name)
	}

	w.logger.Debug("Processing job",
		slog.String("command", name),
		slog.Uint64("attempts", uint64(cmd.Attempts())),
		slog.Bool("redelivered", h.Redelivered()),
	)

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err = runHandler(jobCtx, handler, cmd)

	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", domain.ErrJobTimeout, w.jobTimeout, err)
	}
	if err != nil {
		return err
	}

	w.logger.Debug("Job handler finished",
		slog.String("command", name),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

// runHandler turns a handler panic into an error
func runHandler(ctx context.Context, handler HandlerFunc, cmd job.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", cmd.CommandName(), r)
		}
	}()

	return handler(ctx, cmd)
}
