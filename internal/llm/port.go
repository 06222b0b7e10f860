// Package llm narrows everything the pipeline asks of a language model to a
// single completion port. Pipeline control flow never touches a model SDK
// directly, so workers are testable against a stub implementation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Task labels what a completion is for; it drives metrics and prompt
// selection, never control flow.
type Task string

const (
	TaskClassify     Task = "classify"
	TaskClaim        Task = "claim"
	TaskProcess      Task = "process"
	TaskReference    Task = "reference"
	TaskAsset        Task = "asset"
	TaskTransitional Task = "transitional"
	TaskCompose      Task = "compose"
	TaskReview       Task = "review"
	TaskArbitrate    Task = "arbitrate"
)

// ErrBudgetExhausted is returned when the shared call budget cannot be
// acquired before the context expires.
var ErrBudgetExhausted = errors.New("llm: call budget exhausted")

// Request is one structured completion request. The provider must answer
// with a single JSON document.
type Request struct {
	Task         Task
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// Port is the narrow LLM interface the pipeline depends on.
type Port interface {
	// CompleteJSON runs the request and returns the model's JSON output.
	// The caller owns schema validation of the returned document.
	CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error)

	// Name identifies the provider for logs and metrics.
	Name() string
}

// extractJSON tolerates models that wrap their JSON in a code fence or
// leading prose: it returns the first top-level JSON object or array.
func extractJSON(raw string) (json.RawMessage, error) {
	start := -1
	var open, close byte
	for i := 0; i < len(raw); i++ {
		if raw[i] == '{' || raw[i] == '[' {
			start = i
			open = raw[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("no JSON document in model output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				candidate := json.RawMessage(raw[start : i+1])
				if !json.Valid(candidate) {
					return nil, fmt.Errorf("model output is not valid JSON")
				}
				return candidate, nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON document in model output")
}
