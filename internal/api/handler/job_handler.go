package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/api/dto"
	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/gin-gonic/gin"
)

// maxTriesSetter is implemented by commands that accept a retry limit
type maxTriesSetter interface {
	SetMaxTries(n uint)
}

// DispatchJob handles POST /api/v1/jobs
// Builds a registered command from its arguments and publishes it
func (h *JobHandler) DispatchJob(c *gin.Context) {
	var req dto.DispatchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	cmd, err := h.codec.New(req.Command, req.Args)
	if err != nil {
		if errors.Is(err, job.ErrUnregisteredCommand) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "Unknown command",
				"command":  req.Command,
				"commands": h.codec.Names(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if req.MaxTries > 0 {
		limited, ok := cmd.(maxTriesSetter)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Command does not support max_tries",
			})
			return
		}
		limited.SetMaxTries(req.MaxTries)
	}

	queue := req.Queue
	if queue == "" {
		queue = h.defaultQueue
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	if delay > 0 {
		err = h.queue.PublishLater(c.Request.Context(), delay, cmd, queue)
	} else {
		err = h.queue.Publish(c.Request.Context(), cmd, queue)
	}
	if err != nil {
		h.logger.Error("Failed to dispatch job",
			slog.String("command", req.Command),
			slog.String("queue", queue),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to dispatch job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.DispatchJobResponse{
		Command:      cmd.CommandName(),
		Queue:        queue,
		DelaySeconds: req.DelaySeconds,
	})
}
