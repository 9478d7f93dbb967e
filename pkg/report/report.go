// Package report renders a finished (or partially finished) run as a
// Markdown document. Assembly is a pure function of the prompt graph and
// a result snapshot: identical inputs yield byte-identical output.
package report

import (
	"fmt"
	"strings"

	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/results"
)

// excerptRunes caps the reference excerpt taken from scraped text when no
// snippet is available.
const excerptRunes = 240

// Assemble renders the report: a header, one section per completed node
// in topological order, and a references section grouping each node's
// online resources. Failed and pending nodes contribute no section.
func Assemble(doc *promptset.Document, snapshot map[int]results.NodeState, focus string) string {
	var b strings.Builder

	b.WriteString("# Aggregated Report\n\n")
	fmt.Fprintf(&b, "Prompt set: %s\n\n", doc.Name)
	fmt.Fprintf(&b, "Focus: %s\n", focus)

	type section struct {
		ordinal int
		title   string
		result  *results.NodeResult
	}
	var sections []section
	ordinal := 0
	for _, id := range doc.Graph.TopologicalOrder() {
		state, ok := snapshot[id]
		if !ok || state.Status != results.StatusComplete || state.Result == nil {
			continue
		}
		ordinal++
		sections = append(sections, section{ordinal: ordinal, title: state.Result.SectionTitle, result: state.Result})
	}

	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", s.ordinal, s.title)
		b.WriteString(demoteHeadings(strings.TrimSpace(s.result.LLMText)))
		b.WriteString("\n")
	}

	b.WriteString("\n# References\n")
	for _, s := range sections {
		if len(s.result.OnlineData.Results) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %d. %s\n\n", s.ordinal, s.title)
		for _, r := range s.result.OnlineData.Results {
			writeReference(&b, r)
		}
	}

	return b.String()
}

// demoteHeadings pushes every Markdown heading down one level so the
// section heading stays dominant.
func demoteHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			lines[i] = "#" + line
		}
	}
	return strings.Join(lines, "\n")
}

func writeReference(b *strings.Builder, r results.OnlineResource) {
	title := r.Title
	if title == "" {
		title = r.URL
	}
	if r.URL != "" {
		fmt.Fprintf(b, "- **[%s](%s)**\n", title, r.URL)
	} else {
		fmt.Fprintf(b, "- **%s**\n", title)
	}
	if excerpt := referenceExcerpt(r); excerpt != "" {
		fmt.Fprintf(b, "  %s\n", excerpt)
	}
	if source := sourceLine(r); source != "" {
		fmt.Fprintf(b, "  Source: %s\n", source)
	}
}

// referenceExcerpt prefers the search snippet, falling back to the head
// of the scraped text.
func referenceExcerpt(r results.OnlineResource) string {
	if s := strings.TrimSpace(r.Snippet); s != "" {
		return s
	}
	text := strings.Join(strings.Fields(r.ScrappedText), " ")
	runes := []rune(text)
	if len(runes) > excerptRunes {
		return string(runes[:excerptRunes]) + "…"
	}
	return text
}

func sourceLine(r results.OnlineResource) string {
	source := r.DisplayURL
	if source == "" {
		source = r.URL
	}
	if source == "" {
		return ""
	}
	if r.Extension != "" {
		return fmt.Sprintf("%s (%s)", source, r.Extension)
	}
	return source
}
