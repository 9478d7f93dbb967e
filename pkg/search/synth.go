// Package search turns a section prompt into a summarized corpus of online
// resources: query synthesis, search fan-out, type detection, isolated
// scraping, and summarization.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/report-compose/composer/pkg/llm"
)

// synthQueryCount is the number of queries requested from the LLM; two of
// them must carry a PDF filter so filings and reports surface.
const synthQueryCount = 6

const synthSystemPrompt = "You are a helpful assistant that generates Google search prompts. " +
	"The user has asked a complex question. You need to produce exactly " +
	"six (6) distinct search queries that would help the user find relevant information. " +
	"Two (and only two) of those search prompts must contain: filetype:pdf\n\n" +
	"IMPORTANT: Return your answer as valid JSON with the following structure:\n\n" +
	"{\n" +
	"  \"search_prompts\": [\n" +
	"    \"Prompt 1\",\n" +
	"    \"Prompt 2\",\n" +
	"    \"Prompt 3\",\n" +
	"    \"Prompt 4\",\n" +
	"    \"Prompt 5\",\n" +
	"    \"Prompt 6\"\n" +
	"  ]\n" +
	"}\n\n" +
	"No additional keys should be present. Only return the JSON formatted response."

// Synthesizer asks an LLM for diverse search queries.
type Synthesizer struct {
	client llm.Client
	logger *slog.Logger
}

// NewSynthesizer builds a synthesizer over the given client.
func NewSynthesizer(client llm.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, logger: logger.With("component", "search")}
}

type synthResponse struct {
	SearchPrompts []string `json:"search_prompts"`
}

// GenerateQueries produces search queries for the prompt. Any failure in
// the LLM call or response parsing degrades to stock variations of the
// prompt itself; the aggregator always has queries to run.
func (s *Synthesizer) GenerateQueries(ctx context.Context, prompt string) []string {
	user := fmt.Sprintf("The user asked: '%s'. Please propose six(6) different Google search queries.", prompt)
	completion, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: synthSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		s.logger.Warn("Query synthesis failed, using fallback queries", "error", err)
		return fallbackQueries(prompt)
	}

	var parsed synthResponse
	if err := json.Unmarshal([]byte(stripCodeFence(completion.Text)), &parsed); err != nil || len(parsed.SearchPrompts) == 0 {
		s.logger.Warn("Query synthesis returned unparseable response, using fallback queries")
		return fallbackQueries(prompt)
	}

	queries := make([]string, 0, len(parsed.SearchPrompts))
	for _, q := range parsed.SearchPrompts {
		q = strings.TrimSpace(q)
		if q != "" {
			queries = append(queries, capitalize(q))
		}
	}
	if len(queries) == 0 {
		return fallbackQueries(prompt)
	}
	return queries
}

// fallbackQueries is the stock degradation: numbered variations of the
// prompt itself.
func fallbackQueries(prompt string) []string {
	out := make([]string, synthQueryCount)
	for i := range out {
		out[i] = fmt.Sprintf("%s (Query %d)", prompt, i+1)
	}
	return out
}

// stripCodeFence unwraps a ```json fenced block when the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func capitalize(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
