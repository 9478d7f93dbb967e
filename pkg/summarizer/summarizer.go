// Package summarizer runs a single-worker priority queue in front of a
// heavy summarization model. Many producers submit requests; the worker
// serves them one at a time, lowest priority value first, FIFO within a
// priority. Responses are delivered by request id.
package summarizer

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced through Await.
var (
	// ErrDeadlineExpired indicates the request's deadline had passed when
	// the worker dequeued it. The model is not invoked.
	ErrDeadlineExpired = errors.New("summarization deadline expired")

	// ErrShutdown indicates the service was shut down while the request
	// was still queued.
	ErrShutdown = errors.New("summarizer shut down")

	// ErrAwaitTimeout indicates Await gave up before a response arrived.
	// The request stays queued and is still served.
	ErrAwaitTimeout = errors.New("await timed out")

	// ErrUnknownRequest indicates an Await for an id never submitted or
	// already collected.
	ErrUnknownRequest = errors.New("unknown request id")
)

// Request is one unit of summarization work. Lower Priority is served
// first. A zero Deadline means no deadline.
type Request struct {
	Text     string
	MaxLen   int
	MinLen   int
	Priority int
	Deadline time.Time
}

// Response pairs a request id with its outcome.
type Response struct {
	RequestID string
	Summary   string
	Err       error
}

// Config tunes the service. Zero values get defaults.
type Config struct {
	// IdleUnload releases model resources whenever the queue drains.
	// The next request triggers a reload.
	IdleUnload bool

	// MemoryHighWater is the fraction of device memory above which the
	// worker waits before invoking the model. <=0 disables the check.
	MemoryHighWater float64

	// MemoryGauge reports current device memory usage as a fraction.
	// Required when MemoryHighWater is set.
	MemoryGauge func() float64

	// MemoryPollInterval is the wait between memory polls.
	MemoryPollInterval time.Duration

	// MemoryPollLimit bounds the number of polls; after that the worker
	// proceeds regardless.
	MemoryPollLimit int
}

const (
	defaultMemoryPollInterval = 2 * time.Second
	defaultMemoryPollLimit    = 30
)

// Service is the queue plus its worker goroutine.
type Service struct {
	model  Model
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queue   requestHeap
	waiters map[string]chan Response
	seq     uint64
	closed  bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// New starts a service over the given model. The worker loads the model
// lazily on the first request.
func New(model Model, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MemoryPollInterval <= 0 {
		cfg.MemoryPollInterval = defaultMemoryPollInterval
	}
	if cfg.MemoryPollLimit <= 0 {
		cfg.MemoryPollLimit = defaultMemoryPollLimit
	}
	s := &Service{
		model:   model,
		cfg:     cfg,
		logger:  logger.With("component", "summarizer"),
		waiters: make(map[string]chan Response),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	heap.Init(&s.queue)
	s.wg.Add(1)
	go s.worker()
	return s
}

// Submit enqueues a request and returns its id for Await.
func (s *Service) Submit(req Request) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	s.seq++
	heap.Push(&s.queue, &queued{id: id, req: req, seq: s.seq})
	s.waiters[id] = make(chan Response, 1)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Await blocks until the response for id arrives or timeout elapses.
// A timeout of zero waits forever. The response is collected exactly once.
func (s *Service) Await(id string, timeout time.Duration) (Response, error) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	s.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case resp := <-ch:
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
		return resp, resp.Err
	case <-timer:
		return Response{}, fmt.Errorf("%w: %s", ErrAwaitTimeout, id)
	}
}

// Summarize is Submit followed by Await. Convenience for callers that hold
// one request at a time.
func (s *Service) Summarize(req Request, timeout time.Duration) (string, error) {
	id, err := s.Submit(req)
	if err != nil {
		return "", err
	}
	resp, err := s.Await(id, timeout)
	if err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// Shutdown stops the worker and flushes every queued request with
// ErrShutdown. Idempotent.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		for s.queue.Len() > 0 {
			q := heap.Pop(&s.queue).(*queued)
			if ch, ok := s.waiters[q.id]; ok {
				ch <- Response{RequestID: q.id, Err: ErrShutdown}
			}
		}
		s.mu.Unlock()
		s.logger.Info("Summarizer shut down")
	})
}

// QueueLen returns the number of queued (not yet served) requests.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Service) worker() {
	defer s.wg.Done()
	loaded := false
	defer func() {
		if loaded {
			s.model.Unload()
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		q := s.pop()
		if q == nil {
			// Queue drained. Maybe unload, then sleep until work arrives.
			if loaded && s.cfg.IdleUnload {
				s.logger.Debug("Queue empty, unloading model")
				s.model.Unload()
				loaded = false
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}

		resp := Response{RequestID: q.id}
		if !q.req.Deadline.IsZero() && time.Now().After(q.req.Deadline) {
			resp.Err = fmt.Errorf("%w: queued past deadline", ErrDeadlineExpired)
		} else {
			if !loaded {
				if err := s.model.Load(context.Background()); err != nil {
					resp.Err = fmt.Errorf("load model: %w", err)
					s.deliver(q.id, resp)
					continue
				}
				loaded = true
			}
			s.waitForMemory()
			resp.Summary, resp.Err = s.serve(q.req)
		}
		s.deliver(q.id, resp)
	}
}

func (s *Service) serve(req Request) (string, error) {
	text := TruncateTokens(req.Text, s.model.MaxInputTokens())
	summary, err := s.model.Summarize(context.Background(), text, req.MaxLen, req.MinLen)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return ReflowParagraphs(summary), nil
}

func (s *Service) pop() *queued {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.queue).(*queued)
}

func (s *Service) deliver(id string, resp Response) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	s.mu.Unlock()
	if ok {
		ch <- resp
	}
	if resp.Err != nil {
		s.logger.Warn("Summarization request failed", "request_id", id, "error", resp.Err)
	}
}

// waitForMemory polls the memory gauge until usage falls below the high
// water mark or the poll budget runs out.
func (s *Service) waitForMemory() {
	if s.cfg.MemoryHighWater <= 0 || s.cfg.MemoryGauge == nil {
		return
	}
	for i := 0; i < s.cfg.MemoryPollLimit; i++ {
		usage := s.cfg.MemoryGauge()
		if usage < s.cfg.MemoryHighWater {
			return
		}
		s.logger.Debug("Device memory above high water, waiting",
			"usage", usage, "high_water", s.cfg.MemoryHighWater)
		select {
		case <-time.After(s.cfg.MemoryPollInterval):
		case <-s.stop:
			return
		}
	}
}

// queued is one heap entry. seq preserves FIFO order within a priority.
type queued struct {
	id  string
	req Request
	seq uint64
}

type requestHeap []*queued

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
