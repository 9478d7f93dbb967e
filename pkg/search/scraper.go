package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Scrape failure kinds. Both are per-resource: the aggregator drops the
// resource and continues.
var (
	ErrScrapeTimeout = errors.New("scrape timed out")
	ErrScrapeFailed  = errors.New("scrape failed")
)

// Scraper extracts the text body of a URL.
type Scraper interface {
	Extract(ctx context.Context, url, extension string) (string, error)
}

// SubprocessScraper runs each scrape in a child process so a hung or
// crashing parser cannot wedge the aggregator. The child is this same
// binary invoked with the scrape-worker subcommand; on timeout it is
// killed outright.
type SubprocessScraper struct {
	// Binary is the executable to run. Usually os.Executable().
	Binary string

	// Timeout per resource. Zero means DefaultScrapeTimeout.
	Timeout time.Duration
}

// DefaultScrapeTimeout bounds a single scrape.
const DefaultScrapeTimeout = 90 * time.Second

// Extract implements Scraper.
func (s *SubprocessScraper) Extract(ctx context.Context, url, extension string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultScrapeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Binary, "scrape-worker", "-url", url, "-extension", extension)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Kill the process group promptly once the context fires.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: %s", ErrScrapeTimeout, url)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", ErrScrapeFailed, url, msg)
	}
	return stdout.String(), nil
}
