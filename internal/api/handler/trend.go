package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/domain"
)

// TrendReader is the read side of trend analysis.
type TrendReader interface {
	LatestReport(ctx context.Context) (*domain.TrendReport, error)
	History(ctx context.Context, limit int) ([]domain.TrendReport, error)
	ArchivedReport(ctx context.Context, date string) (*domain.TrendReport, error)
	TrendingKeywords(ctx context.Context, days, limit int) ([]domain.KeywordCount, error)
	HotPapers(ctx context.Context, days, limit int) ([]domain.Paper, error)
}

type TrendHandler struct {
	trends TrendReader
}

func NewTrendHandler(trends TrendReader) *TrendHandler {
	return &TrendHandler{trends: trends}
}

// Latest handles GET /api/v1/trends/latest.
func (h *TrendHandler) Latest(c *gin.Context) {
	report, err := h.trends.LatestReport(c.Request.Context())
	if err != nil {
		writeError(c, err, "Latest trend report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// History handles GET /api/v1/trends/history?limit=.
func (h *TrendHandler) History(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		badRequest(c, err)
		return
	}
	reports, err := h.trends.History(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "Trend history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "total": len(reports)})
}

// Archived handles GET /api/v1/trends/archive/:date, date as YYYY-MM-DD.
func (h *TrendHandler) Archived(c *gin.Context) {
	report, err := h.trends.ArchivedReport(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err, "Archived trend report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// Keywords handles GET /api/v1/trends/keywords?days=&limit=.
func (h *TrendHandler) Keywords(c *gin.Context) {
	days, limit, ok := h.window(c, 20)
	if !ok {
		return
	}
	keywords, err := h.trends.TrendingKeywords(c.Request.Context(), days, limit)
	if err != nil {
		writeError(c, err, "Trending keywords")
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "keywords": keywords})
}

// HotPapers handles GET /api/v1/trends/hot-papers?days=&limit=.
func (h *TrendHandler) HotPapers(c *gin.Context) {
	days, limit, ok := h.window(c, 10)
	if !ok {
		return
	}
	papers, err := h.trends.HotPapers(c.Request.Context(), days, limit)
	if err != nil {
		writeError(c, err, "Hot papers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "papers": papers, "total": len(papers)})
}

func (h *TrendHandler) window(c *gin.Context, defLimit int) (days, limit int, ok bool) {
	var err error
	if days, err = intQuery(c, "days", 7); err != nil {
		badRequest(c, err)
		return 0, 0, false
	}
	if limit, err = intQuery(c, "limit", defLimit); err != nil {
		badRequest(c, err)
		return 0, 0, false
	}
	if days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return 0, 0, false
	}
	return days, limit, true
}
