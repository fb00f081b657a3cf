package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/nkurunziza/docextract/api/handlers"
	"github.com/nkurunziza/docextract/api/middleware"
)

// SetupRoutes wires every endpoint onto the engine.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", handlers.HealthCheck)

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.GET("/:id", h.Document.Get)
		docs.POST("/:id/extract", h.Extraction.Trigger)
		docs.GET("/:id/jobs", h.Extraction.ListJobs)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/:id", h.Extraction.GetJob)
		jobs.GET("/:id/status", h.Extraction.GetJobStatus)
		jobs.GET("/:id/result", h.Extraction.GetResult)
		jobs.DELETE("/:id", h.Extraction.Cancel)
	}
}
