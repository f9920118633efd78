package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/paperpilot/internal/api/handler"
	"github.com/timmy/paperpilot/internal/api/middleware"
	"github.com/timmy/paperpilot/internal/logger"
)

// Handlers bundles every endpoint group served by the router.
type Handlers struct {
	Health         *handler.HealthHandler
	Search         *handler.SearchHandler
	Papers         *handler.PaperHandler
	Recommendation *handler.RecommendationHandler
	Trends         *handler.TrendHandler
	Admin          *handler.AdminHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, log *logger.Logger, mode string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", h.Search.Search)
		v1.GET("/search", h.Search.SearchGet)

		v1.GET("/papers/:id", h.Papers.GetPaper)
		v1.GET("/papers/:id/similar", h.Papers.SimilarPapers)

		recs := v1.Group("/recommendations/:user_id")
		recs.GET("", h.Recommendation.Recommend)
		recs.POST("/interactions", h.Recommendation.RecordInteraction)
		recs.PUT("/preferences", h.Recommendation.UpdatePreferences)

		trends := v1.Group("/trends")
		trends.GET("/latest", h.Trends.Latest)
		trends.GET("/history", h.Trends.History)
		trends.GET("/keywords", h.Trends.Keywords)
		trends.GET("/hot-papers", h.Trends.HotPapers)
		trends.GET("/archive/:date", h.Trends.Archived)

		admin := v1.Group("/admin")
		admin.GET("/stats", h.Admin.Stats)
		admin.POST("/jobs", h.Admin.SubmitJob)
		admin.GET("/jobs", h.Admin.ListJobs)
		admin.GET("/jobs/:id", h.Admin.GetJob)
	}

	return r
}
