package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StubPort is a canned-response Port for tests and local dry runs. Responses
// are keyed by task; unknown tasks fail loudly so a test never silently
// exercises the wrong path.
type StubPort struct {
	mu        sync.Mutex
	responses map[Task][]json.RawMessage
	errs      map[Task]error
	calls     []Request
}

// NewStubPort creates a stub with per-task responses. A task with several
// queued responses yields them in order, repeating the last one.
func NewStubPort(responses map[Task][]json.RawMessage) *StubPort {
	if responses == nil {
		responses = make(map[Task][]json.RawMessage)
	}
	return &StubPort{
		responses: responses,
		errs:      make(map[Task]error),
	}
}

// Name returns the provider name.
func (s *StubPort) Name() string { return "stub" }

// Respond queues a response for a task.
func (s *StubPort) Respond(task Task, doc string) *StubPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[task] = append(s.responses[task], json.RawMessage(doc))
	return s
}

// Fail makes a task return an error.
func (s *StubPort) Fail(task Task, err error) *StubPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[task] = err
	return s
}

// Calls returns every request seen so far.
func (s *StubPort) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CompleteJSON returns the queued response for the request's task.
func (s *StubPort) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if err, ok := s.errs[req.Task]; ok {
		return nil, err
	}
	queue := s.responses[req.Task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("stub: no response configured for task %q", req.Task)
	}
	doc := queue[0]
	if len(queue) > 1 {
		s.responses[req.Task] = queue[1:]
	}
	return doc, nil
}
