package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel records served texts and can block until released.
type fakeModel struct {
	mu       sync.Mutex
	served   []string
	loads    int
	unloads  int
	gate     chan struct{}
	failWith error
}

func (f *fakeModel) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeModel) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
}

func (f *fakeModel) Summarize(_ context.Context, text string, _, _ int) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.served = append(f.served, text)
	return "summary of: " + text, nil
}

func (f *fakeModel) MaxInputTokens() int { return 1024 }

func (f *fakeModel) servedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.served...)
}

func TestSubmitAwait(t *testing.T) {
	model := &fakeModel{}
	svc := New(model, Config{}, nil)
	defer svc.Shutdown()

	id, err := svc.Submit(Request{Text: "quarterly earnings rose.", MaxLen: 60, MinLen: 10})
	require.NoError(t, err)

	resp, err := svc.Await(id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, resp.RequestID)
	assert.Contains(t, resp.Summary, "quarterly earnings rose.")
}

func TestPriorityOrderWithFIFOTieBreak(t *testing.T) {
	model := &fakeModel{gate: make(chan struct{})}
	svc := New(model, Config{}, nil)
	defer svc.Shutdown()

	// Park the worker on a filler request so the real ones queue up.
	filler, err := svc.Submit(Request{Text: "filler", Priority: 0})
	require.NoError(t, err)
	model.gate <- struct{}{}
	_, err = svc.Await(filler, 5*time.Second)
	require.NoError(t, err)

	// Worker is idle again; block it on the next dequeue by submitting a
	// gated head-of-line request first.
	head, err := svc.Submit(Request{Text: "head", Priority: 0})
	require.NoError(t, err)

	var ids []string
	for i, req := range []Request{
		{Text: "low-a", Priority: 5},
		{Text: "high", Priority: 1},
		{Text: "low-b", Priority: 5},
	} {
		id, err := svc.Submit(req)
		require.NoError(t, err, "submit %d", i)
		ids = append(ids, id)
	}

	// Release everything.
	for i := 0; i < 4; i++ {
		model.gate <- struct{}{}
	}

	_, err = svc.Await(head, 5*time.Second)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := svc.Await(id, 5*time.Second)
		require.NoError(t, err)
	}

	served := model.servedTexts()
	require.Len(t, served, 5)
	assert.Equal(t, []string{"high", "low-a", "low-b"}, served[2:])
}

func TestDeadlineExpiredAtDequeue(t *testing.T) {
	model := &fakeModel{gate: make(chan struct{})}
	svc := New(model, Config{}, nil)
	defer svc.Shutdown()

	blocker, err := svc.Submit(Request{Text: "blocker"})
	require.NoError(t, err)

	expired, err := svc.Submit(Request{
		Text:     "too late",
		Deadline: time.Now().Add(20 * time.Millisecond),
	})
	require.NoError(t, err)

	// Hold the worker on the blocker until the deadline passes.
	time.Sleep(50 * time.Millisecond)
	model.gate <- struct{}{}

	_, err = svc.Await(blocker, 5*time.Second)
	require.NoError(t, err)

	_, err = svc.Await(expired, 5*time.Second)
	assert.ErrorIs(t, err, ErrDeadlineExpired)

	// The model never saw the expired request.
	assert.Equal(t, []string{"blocker"}, model.servedTexts())
}

func TestModelErrorIsolated(t *testing.T) {
	model := &fakeModel{failWith: errors.New("cuda out of memory")}
	svc := New(model, Config{}, nil)
	defer svc.Shutdown()

	id, err := svc.Submit(Request{Text: "will fail"})
	require.NoError(t, err)
	_, err = svc.Await(id, 5*time.Second)
	require.ErrorContains(t, err, "cuda out of memory")

	// Later requests are unaffected.
	model.mu.Lock()
	model.failWith = nil
	model.mu.Unlock()

	id, err = svc.Submit(Request{Text: "recovers"})
	require.NoError(t, err)
	resp, err := svc.Await(id, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, resp.Summary, "recovers")
}

func TestShutdownFlushesQueued(t *testing.T) {
	model := &fakeModel{gate: make(chan struct{})}
	svc := New(model, Config{}, nil)

	blocker, err := svc.Submit(Request{Text: "in flight"})
	require.NoError(t, err)
	queued, err := svc.Submit(Request{Text: "still queued"})
	require.NoError(t, err)

	// Wait until the worker has dequeued the blocker and is parked inside
	// the model call, leaving exactly one request queued.
	require.Eventually(t, func() bool { return svc.QueueLen() == 1 },
		5*time.Second, time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		svc.Shutdown()
		svc.Shutdown() // idempotent
		close(shutdownDone)
	}()

	// Let the in-flight request finish so the worker can observe the stop.
	model.gate <- struct{}{}

	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	resp, err := svc.Await(blocker, time.Second)
	require.NoError(t, err)
	assert.Contains(t, resp.Summary, "in flight")

	_, err = svc.Await(queued, time.Second)
	assert.ErrorIs(t, err, ErrShutdown)

	_, err = svc.Submit(Request{Text: "after shutdown"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestAwaitTimeout(t *testing.T) {
	model := &fakeModel{gate: make(chan struct{})}
	svc := New(model, Config{}, nil)
	defer func() {
		close(model.gate)
		svc.Shutdown()
	}()

	id, err := svc.Submit(Request{Text: "slow"})
	require.NoError(t, err)

	_, err = svc.Await(id, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)

	_, err = svc.Await("not-an-id", time.Second)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestIdleUnloadAndLazyReload(t *testing.T) {
	model := &fakeModel{}
	svc := New(model, Config{IdleUnload: true}, nil)
	defer svc.Shutdown()

	id, err := svc.Submit(Request{Text: "first"})
	require.NoError(t, err)
	_, err = svc.Await(id, 5*time.Second)
	require.NoError(t, err)

	// Give the worker a moment to drain and unload.
	require.Eventually(t, func() bool {
		model.mu.Lock()
		defer model.mu.Unlock()
		return model.unloads >= 1
	}, 5*time.Second, 10*time.Millisecond)

	id, err = svc.Submit(Request{Text: "second"})
	require.NoError(t, err)
	_, err = svc.Await(id, 5*time.Second)
	require.NoError(t, err)

	model.mu.Lock()
	defer model.mu.Unlock()
	assert.GreaterOrEqual(t, model.loads, 2)
}

func TestMemoryHighWaterPolling(t *testing.T) {
	var polls int
	var pollMu sync.Mutex
	gauge := func() float64 {
		pollMu.Lock()
		defer pollMu.Unlock()
		polls++
		if polls < 3 {
			return 0.99
		}
		return 0.40
	}

	model := &fakeModel{}
	svc := New(model, Config{
		MemoryHighWater:    0.95,
		MemoryGauge:        gauge,
		MemoryPollInterval: time.Millisecond,
	}, nil)
	defer svc.Shutdown()

	id, err := svc.Submit(Request{Text: "waits for memory"})
	require.NoError(t, err)
	_, err = svc.Await(id, 5*time.Second)
	require.NoError(t, err)

	pollMu.Lock()
	defer pollMu.Unlock()
	assert.GreaterOrEqual(t, polls, 3)
}

func TestTruncateTokens(t *testing.T) {
	text := "one two three four five"
	assert.Equal(t, "one two three", TruncateTokens(text, 3))
	assert.Equal(t, text, TruncateTokens(text, 10))
	assert.Equal(t, text, TruncateTokens(text, 0))
}

func TestReflowParagraphs(t *testing.T) {
	in := "First sentence. Second one!   Third?    Fourth here. Fifth."
	out := ReflowParagraphs(in)

	paragraphs := strings.Split(out, "\n\n")
	require.Len(t, paragraphs, 2)
	assert.Equal(t, "First sentence. Second one! Third?", paragraphs[0])
	assert.Equal(t, "Fourth here. Fifth.", paragraphs[1])

	assert.Equal(t, "", ReflowParagraphs("   "))
	assert.Equal(t, "no terminal punctuation", ReflowParagraphs("no terminal punctuation"))
}

func TestHTTPModel(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch r.URL.Path {
		case "/model/load", "/model/unload":
			w.WriteHeader(http.StatusOK)
		case "/summarize":
			fmt.Fprintf(w, `{"summary_text":"condensed"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	model := NewHTTPModel(HTTPModelConfig{BaseURL: srv.URL, MaxInputTokens: 512})
	require.NoError(t, model.Load(context.Background()))

	out, err := model.Summarize(context.Background(), "long text", 60, 10)
	require.NoError(t, err)
	assert.Equal(t, "condensed", out)
	assert.Equal(t, "/summarize", gotPath)
	assert.Equal(t, 512, model.MaxInputTokens())

	model.Unload()
	assert.Equal(t, "/model/unload", gotPath)
}

func TestHTTPModelErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"error":"input too long"}`)
	}))
	defer srv.Close()

	model := NewHTTPModel(HTTPModelConfig{BaseURL: srv.URL})
	_, err := model.Summarize(context.Background(), "x", 60, 10)
	require.ErrorContains(t, err, "input too long")
}
