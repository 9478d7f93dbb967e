package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-compose/composer/pkg/config"
	"github.com/report-compose/composer/pkg/orchestrator"
	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/registry"
	"github.com/report-compose/composer/pkg/results"
	"github.com/report-compose/composer/pkg/search"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const testGraphYAML = `
prompts:
  Overview:
    id: 1
    text: "describe the subject"
  Conclusion:
    id: 2
    text: "conclude"
prompt_dag:
  - "1 -> 2"
`

type stubSearchService struct {
	resources []results.OnlineResource
	err       error
	lastReq   search.Request
}

func (s *stubSearchService) Search(_ context.Context, req search.Request) ([]results.OnlineResource, error) {
	s.lastReq = req
	return s.resources, s.err
}

func newTestServer(t *testing.T, searcher SearchService) (*Server, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mock_set.yaml"), []byte(testGraphYAML), 0o644))

	reg := registry.New(
		promptset.NewRegistry(dir),
		orchestrator.Deps{},
		orchestrator.Config{MockDelayMean: time.Millisecond, MockDelaySigma: time.Millisecond},
		registry.NewMemoryRunStore(),
		nil,
	)
	cfg := &config.Config{
		Server: &config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}
	return NewServer(context.Background(), cfg, reg, nil, searcher, nil), reg
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createMockRun(t *testing.T, router http.Handler) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/runs",
		`{"prompt_set":"mock_set","focus":"Acme Corp","mock":true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func waitForDone(t *testing.T, router http.Handler, runID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/api/runs/"+runID, "")
		if w.Code != http.StatusOK {
			return false
		}
		var resp RunStatusResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Done
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateAndTrackRun(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	runID := createMockRun(t, router)
	waitForDone(t, router, runID)

	w := doJSON(t, router, http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status RunStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "mock_set", status.PromptSet)
	assert.Equal(t, "Acme Corp", status.Focus)
	assert.False(t, status.ReadOnly)
	assert.Len(t, status.Nodes, 2)
}

func TestCreateRunValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	w := doJSON(t, router, http.MethodPost, "/api/runs", `{"focus":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/runs",
		`{"prompt_set":"no_such_set","focus":"x","mock":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUnknownRun(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	for _, path := range []string{
		"/api/runs/nope",
		"/api/runs/nope/report",
		"/api/runs/nope/snapshot",
	} {
		w := doJSON(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := doJSON(t, router, http.MethodPost, "/api/runs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, router, http.MethodDelete, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReportAndSnapshot(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	runID := createMockRun(t, router)
	waitForDone(t, router, runID)

	w := doJSON(t, router, http.MethodGet, "/api/runs/"+runID+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	body := w.Body.String()
	assert.Contains(t, body, "# Aggregated Report")
	assert.Contains(t, body, "## 1. Overview")
	assert.Contains(t, body, "Some llm response")

	w = doJSON(t, router, http.MethodGet, "/api/runs/"+runID+"/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot, err := results.FromSnapshot(w.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, snapshot.Done())
}

func TestSaveAndLoadRun(t *testing.T) {
	s, reg := newTestServer(t, nil)
	router := s.Router()

	runID := createMockRun(t, router)
	waitForDone(t, router, runID)

	w := doJSON(t, router, http.MethodPost, "/api/runs/"+runID+"/save", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/runs/saved", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []registry.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, runID, list.Runs[0].RunID)

	// Drop the live handle, then load the saved copy back.
	reg.Remove(runID)
	w = doJSON(t, router, http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/runs/saved/"+runID+"/load", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status RunStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.ReadOnly)
	assert.True(t, status.Done)

	w = doJSON(t, router, http.MethodGet, "/api/runs/"+runID+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "## 1. Overview")
}

func TestLoadUnknownSavedRun(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/api/runs/saved/nope/load", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPromptSets(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/api/prompt-sets", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		PromptSets []string `json:"prompt_sets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"mock_set"}, resp.PromptSets)
}

func TestSearchHandler(t *testing.T) {
	stub := &stubSearchService{resources: []results.OnlineResource{
		{URL: "https://a.example", Title: "A", ScrappedText: "text", Extension: "html"},
	}}
	s, _ := newTestServer(t, stub)
	router := s.Router()

	w := doJSON(t, router, http.MethodPost, "/search",
		`{"general_prompt":"describe","particular_prompt":"Acme Corp","cse_id":"engine"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Results []results.OnlineResource `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "A", resp.Results[0].Title)
	assert.Equal(t, "describe", stub.lastReq.GeneralPrompt)
	assert.Equal(t, "engine", stub.lastReq.CSEID)

	w = doJSON(t, router, http.MethodPost, "/search", `{"particular_prompt":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchHandlerUnconfigured(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodPost, "/search", `{"general_prompt":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	// No database configured, so no database section.
	assert.NotContains(t, resp, "database")
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s.Router(), http.MethodOptions, "/api/runs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
