// Package commands holds the job commands both services know about
package commands

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker"
)

// Register adds every built-in command to codec
func Register(codec *job.Codec) error {
	factories := []job.Factory{
		func() job.Command { return &GenerateReport{} },
		func() job.Command { return &LogWebhook{} },
	}

	for _, f := range factories {
		if err := codec.Register(f); err != nil {
			return fmt.Errorf("failed to register command: %w", err)
		}
	}

	return nil
}

// RegisterHandlers adds the handler of every built-in command to registry
func RegisterHandlers(registry *worker.Registry, logger *slog.Logger) error {
	handlers := map[string]worker.HandlerFunc{
		GenerateReportName: NewReportHandler(logger),
		LogWebhookName:     NewWebhookHandler(logger),
	}

	for name, h := range handlers {
		if err := registry.Register(name, h); err != nil {
			return err
		}
	}

	return nil
}
