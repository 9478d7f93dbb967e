package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/report-compose/composer/pkg/results"
	"github.com/report-compose/composer/pkg/search"
)

// searchHandler handles POST /search: one aggregated search per request.
// The body is the search wire request (credentials, prompts, operating
// path, LLM URL, engine id); the response carries the emitted resources.
func (s *Server) searchHandler(c *gin.Context) {
	if s.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search not configured"})
		return
	}

	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.GeneralPrompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "general_prompt is required"})
		return
	}

	resources, err := s.searcher.Search(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("Aggregated search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resources == nil {
		resources = []results.OnlineResource{}
	}
	c.JSON(http.StatusOK, gin.H{"results": resources})
}
