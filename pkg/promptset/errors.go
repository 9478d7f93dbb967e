package promptset

import "errors"

// Sentinel errors for prompt-set loading. All are fatal: a document that
// trips any of them produces no partial graph.
var (
	// ErrInvalidPrompt indicates a prompt entry without a usable id or text.
	ErrInvalidPrompt = errors.New("invalid prompt")

	// ErrCycleDetected indicates the prompt_dag edges form a cycle.
	ErrCycleDetected = errors.New("cycle detected in prompt dag")

	// ErrDanglingEdge indicates an edge endpoint that is not a declared prompt id.
	ErrDanglingEdge = errors.New("edge references unknown prompt id")

	// ErrInvalidEdge indicates a chain literal that could not be parsed.
	ErrInvalidEdge = errors.New("invalid edge chain literal")

	// ErrSetNotFound indicates a prompt-set name with no backing file.
	ErrSetNotFound = errors.New("prompt set not found")
)
