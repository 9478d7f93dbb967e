package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/report-compose/composer/pkg/llm"
	"github.com/report-compose/composer/pkg/results"
)

// processNode produces the node's result. System nodes short-circuit to a
// canned completion; mock runs simulate work; everything else runs the
// full search + LLM pipeline.
func (o *Orchestrator) processNode(ctx context.Context, h *Handle, id int, numericCtx string) (*results.NodeResult, error) {
	prompt, ok := o.doc.Graph.Prompt(id)
	if !ok {
		return nil, fmt.Errorf("prompt %d missing from graph", id)
	}

	if prompt.System {
		o.logger.Info("Skipping node pipeline for system prompt", "node_id", id)
		return &results.NodeResult{
			LLMText:      systemNodeText,
			SectionTitle: prompt.SectionTitle,
			OnlineData: results.OnlineData{Results: []results.OnlineResource{
				{Title: "System Node", ScrappedText: "NA_system_node", Extension: "html"},
			}},
		}, nil
	}

	if h.opts.Mock {
		select {
		case <-time.After(o.mockDelay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &results.NodeResult{
			LLMText:      "Some llm response",
			SectionTitle: prompt.SectionTitle,
			OnlineData: results.OnlineData{Results: []results.OnlineResource{
				{Title: "mock_data", ScrappedText: "place_holder", Extension: "html"},
			}},
		}, nil
	}

	var onlineData results.OnlineData
	if h.opts.WebSearch {
		resources, err := o.deps.Searcher.Aggregate(ctx, prompt.Text, h.focus)
		if err != nil {
			return nil, fmt.Errorf("aggregated search: %w", err)
		}
		// An empty aggregation is a valid corpus; the LLM still answers
		// from the chat history.
		onlineData = results.OnlineData{Results: resources}
	}

	history := o.ancestorHistory(h, id)
	if numericCtx != "" {
		history = insertNumericContext(history, numericCtx)
	}
	if isSearchPreviewModel(o.deps.LLM.Model()) {
		history = truncateForSearchPreview(history)
	}

	completion, data, err := o.completeWithShrink(ctx, history, onlineData)
	if err != nil {
		return nil, err
	}

	data.Results = prependCitations(completion.Citations, data.Results)

	return &results.NodeResult{
		LLMText:      completion.Text,
		OnlineData:   data,
		SectionTitle: prompt.SectionTitle,
	}, nil
}

// completeWithShrink invokes the LLM, halving the longest scraped body and
// retrying on context overflow. Shrinking is monotonic: each retry works
// on the already-shrunk corpus. The caller's corpus is never mutated.
func (o *Orchestrator) completeWithShrink(ctx context.Context, history []results.AncestorMessage, data results.OnlineData) (*llm.Completion, results.OnlineData, error) {
	data = data.Clone()
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxLLMRetries; attempt++ {
		completion, err := o.deps.LLM.Complete(ctx, buildMessages(history, data))
		if err == nil {
			return completion, data, nil
		}
		if !llm.IsContextTooLong(err) {
			return nil, data, fmt.Errorf("llm completion: %w", err)
		}
		lastErr = err
		o.logger.Info("Context overflow, shrinking search corpus",
			"attempt", attempt+1, "resources", len(data.Results))
		data = halveLongestBody(data)
	}
	return nil, data, fmt.Errorf("llm completion after %d shrink retries: %w", o.cfg.MaxLLMRetries, lastErr)
}

// buildMessages maps the ancestor history to chat messages and attaches
// the search corpus as a final user message.
func buildMessages(history []results.AncestorMessage, data results.OnlineData) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		switch m.Entity {
		case results.EntitySystem:
			role = llm.RoleSystem
		case results.EntityLLM:
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Text})
	}
	if len(data.Results) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatCorpus(data)})
	}
	return messages
}

func formatCorpus(data results.OnlineData) string {
	var b strings.Builder
	b.WriteString("Here are online sources gathered for this section. Ground your answer in them where relevant:\n")
	for i, r := range data.Results {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.ScrappedText)
	}
	return b.String()
}

// halveLongestBody returns a copy of data with the longest scrapped text
// cut to its first half, by words.
func halveLongestBody(data results.OnlineData) results.OnlineData {
	out := data.Clone()
	longest, max := -1, 0
	for i, r := range out.Results {
		if n := len(r.ScrappedText); n > max {
			longest, max = i, n
		}
	}
	if longest < 0 || max == 0 {
		return out
	}
	words := strings.Fields(out.Results[longest].ScrappedText)
	out.Results[longest].ScrappedText = strings.Join(words[:len(words)/2], " ")
	return out
}

// prependCitations turns LLM-provided URL citations into reference entries
// ahead of the scraped resources, deduplicating by URL.
func prependCitations(citations []llm.Citation, resources []results.OnlineResource) []results.OnlineResource {
	if len(citations) == 0 {
		return resources
	}
	seen := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		seen[r.URL] = struct{}{}
	}
	var refs []results.OnlineResource
	for _, c := range citations {
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		refs = append(refs, results.OnlineResource{
			URL:        c.URL,
			DisplayURL: c.URL,
			Title:      c.Title,
			Extension:  "html",
		})
	}
	return append(refs, resources...)
}

func isSearchPreviewModel(model string) bool {
	return strings.Contains(model, "search-preview")
}
