package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/report-compose/composer/pkg/version"
)

// healthHandler handles GET /health. The top-level status stays "ok" while
// the process can serve requests; search endpoint discovery polls this
// exact contract. Database trouble is reported in the checks without
// flipping the status, since runs without persistence still work.
func (s *Server) healthHandler(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": version.GitCommit,
	}

	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := s.dbClient.Health(reqCtx)
		resp["database"] = dbHealth
		if err != nil {
			resp["database_error"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, resp)
}
