package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
)

// LogWebhookName is the command name of LogWebhook
const LogWebhookName = "webhook.log"

// LogWebhook records an incoming webhook event
type LogWebhook struct {
	job.BaseCommand
	URL     string `json:"url"`
	Event   string `json:"event"`
	Message string `json:"message"`
}

func (c *LogWebhook) CommandName() string {
	return LogWebhookName
}

// NewWebhookHandler returns the handler for LogWebhook
func NewWebhookHandler(logger *slog.Logger) worker.HandlerFunc {
	return func(ctx context.Context, cmd job.Command) error {
		hook, ok := cmd.(*LogWebhook)
		if !ok {
			return domain.NewPermanentError(fmt.Errorf("unexpected command %T", cmd))
		}

		if hook.Event == "" {
			return domain.NewPermanentError(fmt.Errorf("webhook event is required"))
		}

		u, err := url.Parse(hook.URL)
		if err != nil || u.Host == "" {
			return domain.NewPermanentError(fmt.Errorf("invalid webhook url %q", hook.URL))
		}

		logger.InfoContext(ctx, "Webhook received",
			slog.String("event", hook.Event),
			slog.String("host", u.Host),
			slog.String("message", hook.Message),
		)
		return nil
	}
}
