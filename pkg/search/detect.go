package search

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resource extensions. Word documents are routed to the PDF scraper, so
// they detect as "pdf".
const (
	ExtensionHTML = "html"
	ExtensionPDF  = "pdf"
)

// wordContentTypes are office document types served where PDFs usually are.
var wordContentTypes = []string{
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// DetectExtension infers the resource type of a URL: trailing extension
// first, then a HEAD request for Content-Type, then a short GET peek at the
// body. Anything that is not a PDF (or Word document) is treated as HTML.
func DetectExtension(ctx context.Context, client *http.Client, rawURL string) string {
	if ext, ok := extensionFromURL(rawURL); ok {
		return ext
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ext, ok := extensionFromHead(ctx, client, rawURL); ok {
		return ext
	}
	if ext, ok := extensionFromPeek(ctx, client, rawURL); ok {
		return ext
	}
	return ExtensionHTML
}

func extensionFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, ".pdf"), strings.HasSuffix(path, ".doc"), strings.HasSuffix(path, ".docx"):
		return ExtensionPDF, true
	case strings.HasSuffix(path, ".html"), strings.HasSuffix(path, ".htm"):
		return ExtensionHTML, true
	}
	return "", false
}

func extensionFromHead(ctx context.Context, client *http.Client, rawURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	return extensionFromContentType(resp.Header.Get("Content-Type"))
}

// extensionFromPeek streams the first bytes of the body; servers that
// reject HEAD usually answer GET.
func extensionFromPeek(ctx context.Context, client *http.Client, rawURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if ext, ok := extensionFromContentType(resp.Header.Get("Content-Type")); ok {
		return ext, true
	}

	head := make([]byte, 8)
	n, _ := io.ReadFull(resp.Body, head)
	if n >= 5 && string(head[:5]) == "%PDF-" {
		return ExtensionPDF, true
	}
	return ExtensionHTML, true
}

func extensionFromContentType(ct string) (string, bool) {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	switch {
	case ct == "application/pdf":
		return ExtensionPDF, true
	case ct == "text/html", ct == "application/xhtml+xml":
		return ExtensionHTML, true
	}
	for _, word := range wordContentTypes {
		if ct == word {
			return ExtensionPDF, true
		}
	}
	return "", false
}
