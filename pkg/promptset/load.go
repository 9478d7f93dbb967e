package promptset

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the parsed prompt-set YAML plus the raw bytes it was built
// from. The raw copy is persisted verbatim alongside saved runs.
type Document struct {
	Name  string
	Raw   []byte
	Graph *Graph
}

// promptYAML mirrors one entry of the `prompts` mapping.
type promptYAML struct {
	ID          int    `yaml:"id"`
	Text        string `yaml:"text"`
	System      bool   `yaml:"system"`
	SectionName string `yaml:"section_name"`
}

type documentYAML struct {
	Prompts   map[string]promptYAML `yaml:"prompts"`
	PromptDAG []string              `yaml:"prompt_dag"`
}

// Load parses a prompt-set document and builds its validated graph.
// Fails with ErrInvalidPrompt, ErrDanglingEdge, ErrInvalidEdge or
// ErrCycleDetected; on any failure no partial graph is returned.
func Load(name string, data []byte) (*Document, error) {
	var doc documentYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt set %q: %w", name, err)
	}
	if len(doc.Prompts) == 0 {
		return nil, fmt.Errorf("%w: prompt set %q declares no prompts", ErrInvalidPrompt, name)
	}

	prompts := make(map[int]Prompt, len(doc.Prompts))
	for title, p := range doc.Prompts {
		if p.ID <= 0 {
			return nil, fmt.Errorf("%w: prompt %q has no positive id", ErrInvalidPrompt, title)
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("%w: prompt %q has empty text", ErrInvalidPrompt, title)
		}
		if _, dup := prompts[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate prompt id %d (%q)", ErrInvalidPrompt, p.ID, title)
		}
		sectionTitle := title
		if p.SectionName != "" {
			sectionTitle = p.SectionName
		}
		prompts[p.ID] = Prompt{
			ID:           p.ID,
			SectionTitle: sectionTitle,
			Text:         p.Text,
			System:       p.System,
		}
	}

	var edges [][2]int
	for _, chain := range doc.PromptDAG {
		pairs, err := parseChain(chain)
		if err != nil {
			return nil, err
		}
		edges = append(edges, pairs...)
	}

	graph, err := newGraph(prompts, edges)
	if err != nil {
		return nil, fmt.Errorf("prompt set %q: %w", name, err)
	}

	return &Document{Name: name, Raw: data, Graph: graph}, nil
}

// LoadFile reads and parses a prompt-set file. The set name is the file's
// base name without the .yaml extension.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt set: %w", err)
	}
	return Load(nameFromPath(path), data)
}

// parseChain expands a chain literal like "1 -> 2 -> 4" into consecutive
// edge pairs. A single-id chain contributes a node reference but no edges.
func parseChain(chain string) ([][2]int, error) {
	parts := strings.Split(chain, "->")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEdge, chain)
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEdge, chain, err)
		}
		ids = append(ids, id)
	}

	var pairs [][2]int
	for i := 0; i+1 < len(ids); i++ {
		pairs = append(pairs, [2]int{ids[i], ids[i+1]})
	}
	return pairs, nil
}

func nameFromPath(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".yaml")
}
