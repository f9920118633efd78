package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/paperpilot/internal/service"
)

// Searcher runs the recommendation pipeline for a query.
type Searcher interface {
	Search(ctx context.Context, req *service.SearchRequest) (*service.SearchResponse, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService Searcher
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search pipeline.
//
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService Searcher) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, &req)
}

// SearchGet handles GET /api/v1/search?q= for simple queries.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SearchHandler) SearchGet(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}
	// sources=arxiv,openalex is accepted alongside repeated parameters
	var sources []string
	for _, s := range req.Sources {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sources = append(sources, part)
			}
		}
	}
	req.Sources = sources
	h.run(c, &req)
}

func (h *SearchHandler) run(c *gin.Context, req *service.SearchRequest) {
	if req.TopK < 0 || req.TopK > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be between 1 and 100"})
		return
	}
	result, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "Search")
		return
	}
	c.JSON(http.StatusOK, result)
}
