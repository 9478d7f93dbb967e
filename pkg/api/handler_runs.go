package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/report-compose/composer/pkg/orchestrator"
	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/registry"
	"github.com/report-compose/composer/pkg/report"
)

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	PromptSet string `json:"prompt_set" binding:"required"`
	Focus     string `json:"focus" binding:"required"`
	Mock      bool   `json:"mock"`
	WebSearch bool   `json:"web_search"`
	IsCompany bool   `json:"is_company"`
}

// RunStatusResponse describes a run's current state.
type RunStatusResponse struct {
	RunID     string         `json:"run_id"`
	PromptSet string         `json:"prompt_set"`
	Focus     string         `json:"focus"`
	Done      bool           `json:"done"`
	ReadOnly  bool           `json:"read_only"`
	Nodes     map[string]any `json:"nodes"`
}

func (s *Server) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := orchestrator.Options{
		Mock:      req.Mock,
		WebSearch: req.WebSearch,
		IsCompany: req.IsCompany,
	}
	id, h, err := s.registry.Create(s.runCtx, req.PromptSet, req.Focus, opts)
	if err != nil {
		if errors.Is(err, promptset.ErrSetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Start()

	c.JSON(http.StatusCreated, gin.H{"run_id": id})
}

func (s *Server) getRun(c *gin.Context) {
	h, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, runStatus(c.Param("id"), h))
}

func runStatus(id string, h *orchestrator.Handle) RunStatusResponse {
	nodes := make(map[string]any)
	for nodeID, state := range h.Results().Snapshot() {
		nodes[fmt.Sprintf("%d", nodeID)] = gin.H{
			"status": state.Status,
			"detail": state.Detail,
		}
	}
	return RunStatusResponse{
		RunID:     id,
		PromptSet: h.Document().Name,
		Focus:     h.Focus(),
		Done:      h.Results().Done(),
		ReadOnly:  h.ReadOnly(),
		Nodes:     nodes,
	}
}

func (s *Server) getReport(c *gin.Context) {
	h, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	// Partial runs render the completed sections only.
	markdown := report.Assemble(h.Document(), h.Results().Snapshot(), h.Focus())
	c.Header("Content-Disposition", `attachment; filename="report.md"`)
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(markdown))
}

func (s *Server) getSnapshot(c *gin.Context) {
	h, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	data, err := h.Results().ToJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) cancelRun(c *gin.Context) {
	h, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	h.Cancel()
	s.logger.Info("Run cancelled", "run_id", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) deleteRun(c *gin.Context) {
	if _, ok := s.registry.Get(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	s.registry.Remove(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) saveRun(c *gin.Context) {
	err := s.registry.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) loadRun(c *gin.Context) {
	h, err := s.registry.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runStatus(c.Param("id"), h))
}

func (s *Server) listSavedRuns(c *gin.Context) {
	list, err := s.registry.ListSaved(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []registry.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": list})
}

func (s *Server) listPromptSets(c *gin.Context) {
	names, err := s.registry.PromptSets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"prompt_sets": names})
}
