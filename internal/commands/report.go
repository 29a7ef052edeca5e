package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
)

// GenerateReportName is the command name of GenerateReport
const GenerateReportName = "report.generate"

var supportedFormats = map[string]bool{"csv": true, "pdf": true, "xlsx": true}

// GenerateReport simulates building a report that takes DurationMs to render.
// The first FailTimes tries fail, which exercises release and retry.
type GenerateReport struct {
	job.BaseCommand
	job.Limits
	ReportID   string `json:"report_id"`
	Format     string `json:"format"`
	DurationMs int    `json:"duration_ms"`
	FailTimes  uint   `json:"fail_times,omitempty"`
}

func (c *GenerateReport) CommandName() string {
	return GenerateReportName
}

// NewReportHandler returns the handler for GenerateReport
func NewReportHandler(logger *slog.Logger) worker.HandlerFunc {
	return func(ctx context.Context, cmd job.Command) error {
		report, ok := cmd.(*GenerateReport)
		if !ok {
			return domain.NewPermanentError(fmt.Errorf("unexpected command %T", cmd))
		}

		if !supportedFormats[report.Format] {
			return domain.NewPermanentError(fmt.Errorf("unsupported report format %q", report.Format))
		}

		logger.Info("Generating report",
			slog.String("report_id", report.ReportID),
			slog.String("format", report.Format),
			slog.Uint64("attempts", uint64(report.Attempts())),
		)

		select {
		case <-time.After(time.Duration(report.DurationMs) * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("report generation canceled: %w", ctx.Err())
		}

		if report.Attempts() < report.FailTimes {
			return fmt.Errorf("report %s failed on attempt %d", report.ReportID, report.Attempts()+1)
		}

		logger.Info("Report generated",
			slog.String("report_id", report.ReportID),
		)
		return nil
	}
}
