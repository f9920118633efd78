package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/domain"
)

// Recommender is the per-user side of the pipeline.
type Recommender interface {
	Recommend(ctx context.Context, userID string, limit int) ([]domain.ScoredPaper, error)
	RecordInteraction(ctx context.Context, userID, paperID, action string) error
	UpdatePreferences(ctx context.Context, userID string, authors, journals []string) (*domain.UserInterestProfile, error)
}

// RecommendationHandler handles recommendation endpoints.
type RecommendationHandler struct {
	engine Recommender
}

func NewRecommendationHandler(engine Recommender) *RecommendationHandler {
	return &RecommendationHandler{engine: engine}
}

// InteractionRequest records that a user viewed, saved or downloaded a paper.
type InteractionRequest struct {
	PaperID string `json:"paper_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// PreferencesRequest replaces the followed authors and journals.
type PreferencesRequest struct {
	Authors  []string `json:"authors"`
	Journals []string `json:"journals"`
}

// Recommend handles GET /api/v1/recommendations/:user_id?limit=.
func (h *RecommendationHandler) Recommend(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		badRequest(c, err)
		return
	}
	if limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	userID := c.Param("user_id")
	papers, err := h.engine.Recommend(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err, "Recommend")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"papers":  papers,
		"total":   len(papers),
	})
}

// RecordInteraction handles POST /api/v1/recommendations/:user_id/interactions.
func (h *RecommendationHandler) RecordInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID := c.Param("user_id")
	if err := h.engine.RecordInteraction(c.Request.Context(), userID, req.PaperID, req.Action); err != nil {
		writeError(c, err, "Record interaction")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":  userID,
		"paper_id": req.PaperID,
		"action":   req.Action,
	})
}

// UpdatePreferences handles PUT /api/v1/recommendations/:user_id/preferences.
func (h *RecommendationHandler) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	profile, err := h.engine.UpdatePreferences(c.Request.Context(), c.Param("user_id"), req.Authors, req.Journals)
	if err != nil {
		writeError(c, err, "Update preferences")
		return
	}
	c.JSON(http.StatusOK, profile)
}
