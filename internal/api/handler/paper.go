package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/domain"
)

// PaperCatalog reads stored papers.
type PaperCatalog interface {
	GetPaper(ctx context.Context, id string) (*domain.Paper, error)
	SimilarPapers(ctx context.Context, id string, limit int, threshold float64) ([]domain.ScoredPaper, error)
}

// PaperHandler serves single papers and their neighbours.
type PaperHandler struct {
	catalog PaperCatalog
}

func NewPaperHandler(catalog PaperCatalog) *PaperHandler {
	return &PaperHandler{catalog: catalog}
}

// GetPaper handles GET /api/v1/papers/:id.
func (h *PaperHandler) GetPaper(c *gin.Context) {
	paper, err := h.catalog.GetPaper(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Get paper")
		return
	}
	c.JSON(http.StatusOK, paper)
}

// SimilarPapers handles GET /api/v1/papers/:id/similar?limit=&threshold=.
func (h *PaperHandler) SimilarPapers(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		badRequest(c, err)
		return
	}
	threshold, err := floatQuery(c, "threshold", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	if threshold < 0 || threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be within [0, 1]"})
		return
	}

	papers, err := h.catalog.SimilarPapers(c.Request.Context(), c.Param("id"), limit, threshold)
	if err != nil {
		writeError(c, err, "Similar papers")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paper_id": c.Param("id"),
		"papers":   papers,
		"total":    len(papers),
	})
}
