package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExtensionFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x.example/report.pdf", ExtensionPDF},
		{"https://x.example/report.PDF?dl=1", ExtensionPDF},
		{"https://x.example/memo.docx", ExtensionPDF},
		{"https://x.example/page.html", ExtensionHTML},
		{"https://x.example/page.htm", ExtensionHTML},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectExtension(context.Background(), nil, tt.url), tt.url)
	}
}

func TestDetectExtensionFromHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	got := DetectExtension(context.Background(), srv.Client(), srv.URL+"/filing")
	assert.Equal(t, ExtensionPDF, got)
}

func TestDetectExtensionFromPeek(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// No content type on HEAD; force the GET peek.
			w.Header().Set("Content-Type", "application/octet-stream")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "%PDF-1.7 rest of the file")
	}))
	defer srv.Close()

	got := DetectExtension(context.Background(), srv.Client(), srv.URL+"/download")
	assert.Equal(t, ExtensionPDF, got)
}

func TestDetectExtensionDefaultsToHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "just some bytes")
	}))
	defer srv.Close()

	got := DetectExtension(context.Background(), srv.Client(), srv.URL+"/thing")
	assert.Equal(t, ExtensionHTML, got)
}

func TestExtractHTMLText(t *testing.T) {
	page := `<html><head><title>T</title><style>body{}</style></head><body>
		<nav><p>Home | About | Contact navigation bar with plenty of text</p></nav>
		<p>` + strings.Repeat("Real article content sentence. ", 5) + `</p>
		<p>tiny</p>
		<footer><p>Copyright notice that is definitely long enough to match</p></footer>
	</body></html>`

	text := extractHTMLText(page)
	assert.Contains(t, text, "Real article content sentence.")
	assert.NotContains(t, text, "navigation bar")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "tiny")
}

func TestExtractHTMLTextFallback(t *testing.T) {
	page := `<html><body><div>No paragraphs here, only divs with words</div></body></html>`
	text := extractHTMLText(page)
	assert.Contains(t, text, "only divs with words")
}

func TestExtractPDFText(t *testing.T) {
	raw := []byte("%PDF-1.4\x00\x01obj stream\x00Annual revenue increased by twelve percent\x00\x02short\x00endstream")
	text := extractPDFText(raw)
	assert.Contains(t, text, "Annual revenue increased by twelve percent")
	assert.NotContains(t, text, "short")
}
