// Package registry tracks runs across their lifecycle: creation from a
// named prompt set, lookup by id, saving to a run store and loading a
// saved run back as a read-only handle.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/report-compose/composer/pkg/orchestrator"
	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/report"
	"github.com/report-compose/composer/pkg/results"
)

// Registry owns the live run handles and builds orchestrators over the
// prompt-set registry.
type Registry struct {
	sets   *promptset.Registry
	deps   orchestrator.Deps
	cfg    orchestrator.Config
	store  RunStore
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*orchestrator.Handle
}

// New creates a run registry. The store may be nil when persistence is
// disabled; Save and Load then fail.
func New(sets *promptset.Registry, deps orchestrator.Deps, cfg orchestrator.Config, store RunStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sets:   sets,
		deps:   deps,
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "run_registry"),
		runs:   make(map[string]*orchestrator.Handle),
	}
}

// Create prepares a run over the named prompt set and registers it under a
// fresh id. The run is not started: the caller attaches subscribers first,
// then calls Start on the handle.
func (r *Registry) Create(ctx context.Context, promptSetName, focus string, opts orchestrator.Options) (string, *orchestrator.Handle, error) {
	doc, err := r.sets.Open(promptSetName)
	if err != nil {
		return "", nil, err
	}

	orch := orchestrator.New(doc, r.deps, r.cfg)
	h := orch.NewRun(ctx, focus, opts)
	id := uuid.NewString()

	r.mu.Lock()
	r.runs[id] = h
	r.mu.Unlock()

	r.logger.Info("Run created",
		"run_id", id, "prompt_set", promptSetName, "focus", focus,
		"mock", opts.Mock, "web_search", opts.WebSearch)
	return id, h, nil
}

// Get returns the live or loaded handle for the run id.
func (r *Registry) Get(runID string) (*orchestrator.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runs[runID]
	return h, ok
}

// Remove cancels the run and drops it from the registry. Saved copies are
// unaffected.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	h, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if ok {
		h.Cancel()
	}
}

// Save persists the run's prompt set, result snapshot and metadata. When
// the run has finished, the assembled report is stored alongside.
func (r *Registry) Save(ctx context.Context, runID string) error {
	if r.store == nil {
		return fmt.Errorf("save run %s: no run store configured", runID)
	}
	h, ok := r.Get(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	snapshot, err := h.Results().ToJSON()
	if err != nil {
		return fmt.Errorf("snapshot run %s: %w", runID, err)
	}

	var rendered string
	if h.Results().Done() {
		rendered = report.Assemble(h.Document(), h.Results().Snapshot(), h.Focus())
	}

	opts := h.Options()
	rec := SavedRun{
		RunID:         runID,
		PromptSet:     h.Document().Name,
		Focus:         h.Focus(),
		Online:        opts.WebSearch,
		Mock:          opts.Mock,
		PromptSetYAML: h.Document().Raw,
		Snapshot:      snapshot,
		Report:        rendered,
		SavedAt:       time.Now().UTC(),
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	r.logger.Info("Run saved", "run_id", runID, "prompt_set", rec.PromptSet, "done", rendered != "")
	return nil
}

// Load reconstructs a saved run as a read-only handle and registers it
// under its original id. Loaded runs serve the assembler and subscribers
// but cannot be re-executed. A run already present in the registry is
// returned as-is.
func (r *Registry) Load(ctx context.Context, runID string) (*orchestrator.Handle, error) {
	if h, ok := r.Get(runID); ok {
		return h, nil
	}
	if r.store == nil {
		return nil, fmt.Errorf("load run %s: no run store configured", runID)
	}

	rec, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	doc, err := promptset.Load(rec.PromptSet, rec.PromptSetYAML)
	if err != nil {
		return nil, fmt.Errorf("load run %s prompt set: %w", runID, err)
	}
	store, err := results.FromSnapshot(rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("load run %s snapshot: %w", runID, err)
	}

	h := orchestrator.RestoreHandle(doc, store, rec.Focus,
		orchestrator.Options{Mock: rec.Mock, WebSearch: rec.Online})

	r.mu.Lock()
	// A concurrent Load may have won the race; keep the first handle.
	if existing, ok := r.runs[runID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.runs[runID] = h
	r.mu.Unlock()

	r.logger.Info("Run loaded", "run_id", runID, "prompt_set", rec.PromptSet)
	return h, nil
}

// ListSaved returns the saved-run summaries, newest first.
func (r *Registry) ListSaved(ctx context.Context) ([]RunSummary, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.List(ctx)
}

// PromptSets lists the names the registry can create runs from.
func (r *Registry) PromptSets() ([]string, error) {
	return r.sets.List()
}
