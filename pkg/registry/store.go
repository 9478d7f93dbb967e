package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound indicates the run id is unknown to the registry or store.
var ErrRunNotFound = errors.New("run not found")

// SavedRun is the persisted form of a run: the prompt set verbatim, the
// result snapshot and enough metadata to reconstruct a read-only handle.
type SavedRun struct {
	RunID         string
	PromptSet     string
	Focus         string
	Online        bool
	Mock          bool
	PromptSetYAML []byte
	Snapshot      []byte
	Report        string
	SavedAt       time.Time
}

// RunSummary is the listing view of a saved run, without the payloads.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	PromptSet string    `json:"prompt_set"`
	Focus     string    `json:"focus"`
	Online    bool      `json:"online"`
	SavedAt   time.Time `json:"saved_at"`
}

// RunStore persists saved runs. Put overwrites any earlier save of the
// same run id. Prune deletes runs saved before the cutoff and reports
// how many went.
type RunStore interface {
	Put(ctx context.Context, run SavedRun) error
	Get(ctx context.Context, runID string) (SavedRun, error)
	List(ctx context.Context) ([]RunSummary, error)
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryRunStore keeps saved runs in process memory. It backs tests and
// deployments without a database.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]SavedRun
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]SavedRun)}
}

func (s *MemoryRunStore) Put(_ context.Context, run SavedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (SavedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return SavedRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *MemoryRunStore) List(_ context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, RunSummary{
			RunID:     run.RunID,
			PromptSet: run.PromptSet,
			Focus:     run.Focus,
			Online:    run.Online,
			SavedAt:   run.SavedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (s *MemoryRunStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, run := range s.runs {
		if run.SavedAt.Before(cutoff) {
			delete(s.runs, id)
			count++
		}
	}
	return count, nil
}
