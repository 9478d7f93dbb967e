package orchestrator

import (
	"github.com/report-compose/composer/pkg/results"
)

// ancestorHistory assembles the chat history for a node: every ancestor in
// topological order contributes its prompt (system or user) and, for
// non-system ancestors with a complete result, the LLM reply. The node's
// own prompt comes last with no reply. Failed ancestors simply leave no
// reply behind.
func (o *Orchestrator) ancestorHistory(h *Handle, id int) []results.AncestorMessage {
	graph := o.doc.Graph
	ancestors := graph.Ancestors(id)

	var history []results.AncestorMessage
	for _, n := range graph.TopologicalOrder() {
		if n == id {
			continue
		}
		if _, ok := ancestors[n]; !ok {
			continue
		}
		prompt, ok := graph.Prompt(n)
		if !ok {
			continue
		}
		if prompt.System {
			history = append(history, results.AncestorMessage{Entity: results.EntitySystem, Text: prompt.Text})
			continue
		}
		history = append(history, results.AncestorMessage{Entity: results.EntityUser, Text: prompt.Text})
		if res, ok := h.store.Result(n); ok {
			history = append(history, results.AncestorMessage{Entity: results.EntityLLM, Text: res.LLMText})
		}
	}

	current, _ := graph.Prompt(id)
	entity := results.EntityUser
	if current.System {
		entity = results.EntitySystem
	}
	return append(history, results.AncestorMessage{Entity: entity, Text: current.Text})
}

// insertNumericContext splices the numeric financial context in as a
// synthetic user message at position 1, right after the opening message.
func insertNumericContext(history []results.AncestorMessage, numericCtx string) []results.AncestorMessage {
	msg := results.AncestorMessage{
		Entity: results.EntityUser,
		Text:   "Here is some data for context\n" + numericCtx,
	}
	pos := 1
	if len(history) < 1 {
		pos = len(history)
	}
	out := make([]results.AncestorMessage, 0, len(history)+1)
	out = append(out, history[:pos]...)
	out = append(out, msg)
	return append(out, history[pos:]...)
}

// truncateForSearchPreview keeps the first two messages plus the last one.
// Search-preview model variants reject long histories.
func truncateForSearchPreview(history []results.AncestorMessage) []results.AncestorMessage {
	if len(history) <= 2 {
		return history
	}
	out := make([]results.AncestorMessage, 0, 3)
	out = append(out, history[:2]...)
	return append(out, history[len(history)-1])
}
