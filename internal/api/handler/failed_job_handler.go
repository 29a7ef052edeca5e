package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/api/domain"
	"github.com/cuongbtq/amqp-jobs/internal/api/dto"
	"github.com/cuongbtq/amqp-jobs/internal/api/model"
	"github.com/cuongbtq/amqp-jobs/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListFailedJobs handles GET /api/v1/failed-jobs
func (h *FailedJobHandler) ListFailedJobs(c *gin.Context) {
	var req dto.ListFailedJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeFailedJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListFailedJobs(c.Request.Context(), storage.FailedJobFilter{
		Queue:    req.Queue,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list failed jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list failed jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListFailedJobsResponse{
		FailedJobs: make([]dto.FailedJobDTO, len(jobs)),
	}
	for i := range jobs {
		resp.FailedJobs[i] = toFailedJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeFailedJobCursor(&storage.FailedJobCursor{
			FailedAt: last.FailedAt,
			ID:       last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// GetFailedJob handles GET /api/v1/failed-jobs/:id
func (h *FailedJobHandler) GetFailedJob(c *gin.Context) {
	failed, ok := h.loadFailedJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, toFailedJobDTO(failed))
}

// RetryFailedJob handles POST /api/v1/failed-jobs/:id/retry
// Publishes the stored command again with a fresh attempt counter, then
// removes the record
func (h *FailedJobHandler) RetryFailedJob(c *gin.Context) {
	failed, ok := h.loadFailedJob(c)
	if !ok {
		return
	}

	desc, err := h.codec.Decode(failed.Payload)
	if err != nil {
		h.logger.Warn("Failed job payload cannot be decoded",
			slog.String("id", failed.ID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Failed job payload cannot be decoded",
		})
		return
	}

	cmd := desc.Command
	cmd.SetAttempts(0)

	if err := h.queue.Publish(c.Request.Context(), cmd, failed.Queue); err != nil {
		h.logger.Error("Failed to publish retried job",
			slog.String("id", failed.ID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to publish job",
		})
		return
	}

	if err := h.store.DeleteFailedJob(c.Request.Context(), failed.ID); err != nil && !errors.Is(err, domain.ErrFailedJobNotFound) {
		// the job is queued again; a stale record only risks a duplicate retry
		h.logger.Error("Failed to delete retried failed job",
			slog.String("id", failed.ID),
			slog.Any("error", err),
		)
	}

	h.logger.Info("Failed job retried",
		slog.String("id", failed.ID),
		slog.String("queue", failed.Queue),
		slog.String("command", cmd.CommandName()),
	)

	c.JSON(http.StatusAccepted, dto.RetryFailedJobResponse{
		ID:      failed.ID,
		Queue:   failed.Queue,
		Command: cmd.CommandName(),
	})
}

// DeleteFailedJob handles DELETE /api/v1/failed-jobs/:id
func (h *FailedJobHandler) DeleteFailedJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteFailedJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrFailedJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Failed job not found",
			})
			return
		}
		h.logger.Error("Failed to delete failed job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete failed job",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *FailedJobHandler) loadFailedJob(c *gin.Context) (*model.FailedJob, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	failed, err := h.store.GetFailedJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrFailedJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Failed job not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get failed job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get failed job",
		})
		return nil, false
	}

	return failed, true
}

func parseID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func toFailedJobDTO(f *model.FailedJob) dto.FailedJobDTO {
	return dto.FailedJobDTO{
		ID:        f.ID,
		Queue:     f.Queue,
		MessageID: f.MessageID,
		Payload:   string(f.Payload),
		Exception: f.Exception,
		Reason:    f.Reason,
		Attempts:  f.Attempts,
		FailedAt:  f.FailedAt.Format(time.RFC3339Nano),
	}
}
