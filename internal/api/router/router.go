package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.HealthChecks))

	jobHandler := handler.NewJobHandler(deps)
	failedJobHandler := handler.NewFailedJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Dispatch a job
			jobs.POST("", jobHandler.DispatchJob)
		}

		failed := v1.Group("/failed-jobs")
		{
			failed.GET("", failedJobHandler.ListFailedJobs)
			failed.GET("/:id", failedJobHandler.GetFailedJob)
			failed.POST("/:id/retry", failedJobHandler.RetryFailedJob)
			failed.DELETE("/:id", failedJobHandler.DeleteFailedJob)
		}
	}

	return r
}

func healthHandler(checks map[string]handler.HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  state,
			"service": "job-api-service",
			"checks":  results,
		})
	}
}
