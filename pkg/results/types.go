// Package results holds per-node run state and fans out state transitions
// to any number of subscribers without ever blocking the writer.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for store misuse.
var (
	// ErrUnknownNode indicates a write against an id the store was not
	// initialized with.
	ErrUnknownNode = errors.New("unknown node id")

	// ErrAlreadyTerminal indicates a second terminal write (or any write
	// after complete/failed). The first terminal state wins.
	ErrAlreadyTerminal = errors.New("node already in terminal state")
)

// Status is the lifecycle state of a node.
// Transitions: pending → processing → (complete | failed).
type Status string

// Node lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// OnlineResource is one URL-identified document discovered by search,
// scraped and summarized. ScrappedText is non-empty for every emitted
// resource; the unusual spelling is the persisted wire name.
type OnlineResource struct {
	URL          string `json:"url"`
	DisplayURL   string `json:"display_url"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	ScrappedText string `json:"scrapped_text"`
	Extension    string `json:"extension"` // "html" or "pdf"
}

// OnlineData is the search corpus attached to a completed node.
type OnlineData struct {
	Results []OnlineResource `json:"results"`
}

// Clone returns a deep copy; the orchestrator's shrink-retry loop works on
// copies so callers never observe mutated corpora.
func (d OnlineData) Clone() OnlineData {
	out := OnlineData{Results: make([]OnlineResource, len(d.Results))}
	copy(out.Results, d.Results)
	return out
}

// AncestorMessage is one entry of a node's assembled chat history.
// Entity is "system", "user" or "llm".
type AncestorMessage struct {
	Entity string `json:"entity"`
	Text   string `json:"text"`
}

// Ancestor message entities.
const (
	EntitySystem = "system"
	EntityUser   = "user"
	EntityLLM    = "llm"
)

// NodeResult is the payload of a completed node.
type NodeResult struct {
	LLMText      string     `json:"llm_text"`
	OnlineData   OnlineData `json:"online_data"`
	SectionTitle string     `json:"section_title"`
}

// UnmarshalJSON accepts both "section_title" and the legacy misspelled
// "section_tile" key found in older persisted runs.
func (r *NodeResult) UnmarshalJSON(data []byte) error {
	type alias struct {
		LLMText        string     `json:"llm_text"`
		OnlineData     OnlineData `json:"online_data"`
		SectionTitle   string     `json:"section_title"`
		SectionTitleMS string     `json:"section_tile"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.LLMText = a.LLMText
	r.OnlineData = a.OnlineData
	r.SectionTitle = a.SectionTitle
	if r.SectionTitle == "" {
		r.SectionTitle = a.SectionTitleMS
	}
	return nil
}

// NodeState is the status of a node plus its status-dependent payload:
// Result for complete, Detail carrying the error string for failed or the
// progress message for processing, nothing for pending.
type NodeState struct {
	Status Status
	Result *NodeResult
	Detail string
}

// nodeStateJSON is the wire shape: {"status": ..., "result": <variant>}.
type nodeStateJSON struct {
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// MarshalJSON encodes the result variant the way the streaming and
// persistence contracts expect: object for complete, string for
// processing/failed, null for pending.
func (s NodeState) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	switch s.Status {
	case StatusComplete:
		b, err := json.Marshal(s.Result)
		if err != nil {
			return nil, err
		}
		raw = b
	case StatusProcessing, StatusFailed:
		b, err := json.Marshal(s.Detail)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = json.RawMessage("null")
	}
	return json.Marshal(nodeStateJSON{Status: s.Status, Result: raw})
}

// UnmarshalJSON decodes the variant by status.
func (s *NodeState) UnmarshalJSON(data []byte) error {
	var w nodeStateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Status = w.Status
	s.Result = nil
	s.Detail = ""
	switch w.Status {
	case StatusComplete:
		var r NodeResult
		if len(w.Result) > 0 && string(w.Result) != "null" {
			if err := json.Unmarshal(w.Result, &r); err != nil {
				return fmt.Errorf("decode node result: %w", err)
			}
		}
		s.Result = &r
	case StatusProcessing, StatusFailed:
		if len(w.Result) > 0 && string(w.Result) != "null" {
			if err := json.Unmarshal(w.Result, &s.Detail); err != nil {
				return fmt.Errorf("decode node detail: %w", err)
			}
		}
	}
	return nil
}

// Update is one state transition delivered to subscribers.
type Update struct {
	NodeID int
	State  NodeState
}
