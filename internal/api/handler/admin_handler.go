package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/jobs"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/service"
)

type VectorStatsProvider interface {
	VectorStats(ctx context.Context) (*service.VectorStats, error)
}

type SearchCounter interface {
	CountSince(ctx context.Context, t time.Time) (int64, error)
}

type JobSubmitter interface {
	Submit(ctx context.Context, job jobs.Job) (jobs.Job, error)
}

type JobHistory interface {
	GetByID(ctx context.Context, id string) (*domain.JobRun, error)
	ListRecent(ctx context.Context, kind string, limit int) ([]domain.JobRun, error)
}

// AdminDeps groups the collaborators of the admin endpoints. Searches,
// Queue and Runs may be nil.
type AdminDeps struct {
	Stats    VectorStatsProvider
	Searches SearchCounter
	Queue    JobSubmitter
	Runs     JobHistory
	// RerankerState reports the re-ranker circuit state; nil omits it.
	RerankerState func() string
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	deps AdminDeps
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - deps: stats sources, job queue and job history.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// SubmitJobRequest represents the job submission API request.
type SubmitJobRequest struct {
	Kind    string                 `json:"kind" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// SubmitJobResponse acknowledges a queued job.
type SubmitJobResponse struct {
	Message     string    `json:"message"`
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// StatsResponse reports catalog and pipeline health.
type StatsResponse struct {
	Vectors       *service.VectorStats `json:"vectors"`
	Searches24h   *int64               `json:"searches_24h,omitempty"`
	RerankerState string               `json:"reranker_state,omitempty"`
	RecentJobs    []domain.JobRun      `json:"recent_jobs,omitempty"`
}

// Stats handles GET /api/v1/admin/stats.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	vectors, err := h.deps.Stats.VectorStats(ctx)
	if err != nil {
		writeError(c, err, "Get stats")
		return
	}
	resp := StatsResponse{Vectors: vectors}

	if h.deps.Searches != nil {
		if n, err := h.deps.Searches.CountSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
			resp.Searches24h = &n
		} else {
			logger.CtxWarn(ctx, "Failed to count recent searches: %v", err)
		}
	}
	if h.deps.RerankerState != nil {
		resp.RerankerState = h.deps.RerankerState()
	}
	if h.deps.Runs != nil {
		if runs, err := h.deps.Runs.ListRecent(ctx, "", 5); err == nil {
			resp.RecentJobs = runs
		} else {
			logger.CtxWarn(ctx, "Failed to list recent jobs: %v", err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitJob handles POST /api/v1/admin/jobs.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) SubmitJob(c *gin.Context) {
	if h.deps.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is not configured"})
		return
	}
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind, err := jobs.ParseKind(req.Kind)
	if err != nil {
		badRequest(c, err)
		return
	}

	var payload interface{}
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	job, err := jobs.NewJob(kind, payload)
	if err != nil {
		badRequest(c, err)
		return
	}
	job, err = h.deps.Queue.Submit(c.Request.Context(), job)
	if err != nil {
		writeError(c, err, "Submit job")
		return
	}

	c.JSON(http.StatusAccepted, SubmitJobResponse{
		Message:     "Job queued",
		JobID:       job.ID,
		Kind:        string(job.Kind),
		SubmittedAt: job.SubmittedAt,
	})
}

// ListJobs handles GET /api/v1/admin/jobs?kind=&limit=.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	if h.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job history is not configured"})
		return
	}
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		badRequest(c, err)
		return
	}
	runs, err := h.deps.Runs.ListRecent(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		writeError(c, err, "List jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": runs, "total": len(runs)})
}

// GetJob handles GET /api/v1/admin/jobs/:id.
func (h *AdminHandler) GetJob(c *gin.Context) {
	if h.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job history is not configured"})
		return
	}
	run, err := h.deps.Runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Get job")
		return
	}
	c.JSON(http.StatusOK, run)
}
