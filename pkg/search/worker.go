package search

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
)

// Worker code for the scrape-worker subcommand. It runs in a short-lived
// child process: fetch one URL, extract its text, print it to stdout.

var workerUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:86.0) Gecko/20100101 Firefox/86.0",
	"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/86.0.4240.183 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.96 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
}

const (
	workerFetchRetries = 3
	// Bodies shorter than this are usually interstitials or paywalls.
	minUsefulBodyLen = 500
	// Paragraph blocks shorter than this are navigation crumbs.
	minBlockLen = 50
)

// ExtractResource fetches url and returns its extracted text. extension is
// "html" or "pdf".
func ExtractResource(ctx context.Context, url, extension string) (string, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	body, err := fetchBody(ctx, client, url)
	if err != nil {
		return "", err
	}
	if extension == ExtensionPDF {
		return extractPDFText(body), nil
	}
	return extractHTMLText(string(body)), nil
}

// fetchBody retries with a rotating browser user agent; a suspiciously
// short body counts as a failed attempt.
func fetchBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < workerFetchRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", workerUserAgents[rand.Intn(len(workerUserAgents))])
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d from %s", resp.StatusCode, url)
			continue
		}
		if len(strings.TrimSpace(string(body))) < minUsefulBodyLen {
			lastErr = fmt.Errorf("body too short from %s, possibly paywalled", url)
			continue
		}
		return body, nil
	}
	return nil, lastErr
}

// boilerplateTags are removed wholesale before text extraction.
var boilerplateTags = map[string]bool{
	"nav": true, "footer": true, "aside": true,
	"script": true, "style": true, "form": true, "noscript": true,
}

// extractHTMLText pulls paragraph text out of an HTML document, skipping
// boilerplate containers and short navigation fragments. Falls back to the
// whole document text when no paragraphs survive.
func extractHTMLText(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if boilerplateTags[n.Data] {
				return
			}
			if n.Data == "p" {
				text := collapseSpace(nodeText(n))
				if len(text) >= minBlockLen {
					blocks = append(blocks, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(blocks) > 0 {
		return strings.Join(blocks, "\n")
	}
	return collapseSpace(nodeText(doc))
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && boilerplateTags[n.Data] {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
		b.WriteString(" ")
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractPDFText recovers readable text runs from raw PDF bytes. A proper
// layout-aware extraction lives behind the summarizer anyway; runs of
// printable characters are enough signal for it.
func extractPDFText(data []byte) string {
	var b strings.Builder
	var run []rune
	flush := func() {
		// Short runs are operator noise, not prose.
		if len(run) >= 12 {
			b.WriteString(strings.TrimSpace(string(run)))
			b.WriteString("\n")
		}
		run = run[:0]
	}
	for _, c := range string(data) {
		if unicode.IsPrint(c) && c != '<' && c != '>' {
			run = append(run, c)
			continue
		}
		flush()
	}
	flush()
	return collapseSpace(b.String())
}
