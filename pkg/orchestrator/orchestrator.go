// Package orchestrator executes a prompt graph: one task per node, each
// task joining on its predecessors, running the node pipeline and writing
// exactly one terminal state into the run's result store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/report-compose/composer/pkg/findata"
	"github.com/report-compose/composer/pkg/llm"
	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/results"
)

// ErrReadOnlyRun indicates an execution attempt on a run restored from a
// snapshot; such runs serve the assembler and subscribers only.
var ErrReadOnlyRun = errors.New("run is read-only")

// Options select the run mode.
type Options struct {
	// Mock replaces the node pipeline with a simulated delay and a stock
	// response.
	Mock bool

	// WebSearch enables the aggregated search stage.
	WebSearch bool

	// IsCompany enables the numeric financial context lookup.
	IsCompany bool
}

// Searcher runs one aggregated search for a section prompt.
type Searcher interface {
	Aggregate(ctx context.Context, general, particular string) ([]results.OnlineResource, error)
}

// Config tunes execution. Zero values get defaults.
type Config struct {
	// MaxLLMRetries bounds the context-shrink retry loop.
	MaxLLMRetries int

	// MockDelayMean / MockDelaySigma shape the simulated per-node delay
	// in mock mode.
	MockDelayMean  time.Duration
	MockDelaySigma time.Duration
}

const (
	defaultMaxLLMRetries  = 5
	defaultMockDelayMean  = 5 * time.Second
	defaultMockDelaySigma = 2 * time.Second

	processingDetail = "Node is currently being explored"

	systemNodeText = "**This is a system prompt**"
)

// Deps are the external services a run drives.
type Deps struct {
	LLM      llm.Client
	Searcher Searcher
	FinData  findata.Retriever
	Logger   *slog.Logger
}

// Orchestrator builds runs over one prompt-set document.
type Orchestrator struct {
	doc    *promptset.Document
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator for the document.
func New(doc *promptset.Document, deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLLMRetries <= 0 {
		cfg.MaxLLMRetries = defaultMaxLLMRetries
	}
	if cfg.MockDelayMean <= 0 {
		cfg.MockDelayMean = defaultMockDelayMean
	}
	if cfg.MockDelaySigma <= 0 {
		cfg.MockDelaySigma = defaultMockDelaySigma
	}
	return &Orchestrator{
		doc:    doc,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
	}
}

// Document returns the prompt set this orchestrator executes.
func (o *Orchestrator) Document() *promptset.Document {
	return o.doc
}

// Handle is a live (or restored) run.
type Handle struct {
	doc   *promptset.Document
	store *results.Store
	focus string
	opts  Options

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	readOnly  bool
	launch    func()
	startOnce sync.Once

	mu       sync.Mutex
	failures map[int]string
}

// Results returns the run's live result store.
func (h *Handle) Results() *results.Store { return h.store }

// Document returns the prompt set backing the run.
func (h *Handle) Document() *promptset.Document { return h.doc }

// Focus returns the run's focus string.
func (h *Handle) Focus() string { return h.focus }

// Options returns the run's mode flags.
func (h *Handle) Options() Options { return h.opts }

// ReadOnly reports whether the run was restored from a snapshot.
func (h *Handle) ReadOnly() bool { return h.readOnly }

// Cancel aborts outstanding node tasks. Nodes already past their last
// suspension point may still write one final terminal state.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Wait blocks until every node reaches a terminal state. It returns nil
// when all nodes completed, or one error summarizing the failed nodes.
// Individual failures never abort the rest of the run.
func (h *Handle) Wait() error {
	if h.readOnly {
		return nil
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.failures) == 0 {
		return nil
	}
	ids := make([]int, 0, len(h.failures))
	for id := range h.failures {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("node %d: %s", id, h.failures[id]))
	}
	return fmt.Errorf("%d node(s) failed: %s", len(ids), strings.Join(parts, "; "))
}

func (h *Handle) recordFailure(id int, reason string) {
	h.mu.Lock()
	h.failures[id] = reason
	h.mu.Unlock()
}

// NewRun prepares a run without executing it, so the caller can attach
// subscribers before the first transition. Start launches the node tasks.
func (o *Orchestrator) NewRun(ctx context.Context, focus string, opts Options) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		doc:      o.doc,
		store:    results.NewStore(o.doc.Graph.NodeIDs()),
		focus:    focus,
		opts:     opts,
		cancel:   cancel,
		failures: make(map[int]string),
	}

	h.launch = func() {
		// The numeric context is fetched once, before any node task runs.
		var numericCtx string
		if opts.IsCompany && !opts.Mock && o.deps.FinData != nil {
			if info, err := o.deps.FinData.Lookup(runCtx, focus); err == nil {
				numericCtx = info.Text()
			} else {
				o.logger.Info("Numeric context unavailable", "focus", focus, "error", err)
			}
		}

		done := make(map[int]chan struct{}, o.doc.Graph.Len())
		for _, id := range o.doc.Graph.NodeIDs() {
			done[id] = make(chan struct{})
		}

		// Spawn in topological order so every predecessor's completion
		// signal exists before a child waits on it.
		for _, id := range o.doc.Graph.TopologicalOrder() {
			h.wg.Add(1)
			go o.nodeTask(runCtx, h, id, done, numericCtx)
		}
	}
	return h
}

// Run prepares and immediately starts a run.
func (o *Orchestrator) Run(ctx context.Context, focus string, opts Options) *Handle {
	h := o.NewRun(ctx, focus, opts)
	h.Start()
	return h
}

// Start launches the run's node tasks. Idempotent; a no-op on restored
// runs.
func (h *Handle) Start() {
	if h.readOnly || h.launch == nil {
		return
	}
	h.startOnce.Do(h.launch)
}

// RestoreHandle wraps a snapshot store as a read-only run for assembly
// and inspection.
func RestoreHandle(doc *promptset.Document, store *results.Store, focus string, opts Options) *Handle {
	return &Handle{
		doc:      doc,
		store:    store,
		focus:    focus,
		opts:     opts,
		readOnly: true,
		failures: make(map[int]string),
	}
}

// nodeTask joins on the node's predecessors, then runs the pipeline and
// writes the terminal state. Every exit path produces exactly one
// terminal transition.
func (o *Orchestrator) nodeTask(ctx context.Context, h *Handle, id int, done map[int]chan struct{}, numericCtx string) {
	defer h.wg.Done()
	defer close(done[id])

	for _, pred := range o.doc.Graph.Predecessors(id) {
		select {
		case <-done[pred]:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		o.failNode(h, id, "run cancelled")
		return
	}

	if err := h.store.MarkProcessing(id, processingDetail); err != nil {
		o.logger.Error("Node transition to processing failed", "node_id", id, "error", err)
		return
	}

	result, err := o.processNode(ctx, h, id, numericCtx)
	if err != nil {
		o.failNode(h, id, err.Error())
		return
	}
	if err := h.store.Store(id, *result); err != nil {
		o.logger.Error("Node result write failed", "node_id", id, "error", err)
	}
}

func (o *Orchestrator) failNode(h *Handle, id int, reason string) {
	h.recordFailure(id, reason)
	if err := h.store.MarkFailed(id, reason); err != nil {
		o.logger.Error("Node transition to failed errored", "node_id", id, "error", err)
	}
	o.logger.Warn("Node failed", "node_id", id, "reason", reason)
}

// mockDelay samples the simulated processing time.
func (o *Orchestrator) mockDelay() time.Duration {
	d := time.Duration(rand.NormFloat64()*float64(o.cfg.MockDelaySigma)) + o.cfg.MockDelayMean
	if d < 0 {
		d = -d
	}
	return d
}
