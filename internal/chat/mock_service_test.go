package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// mockService is a scripted CompletionService. Each Complete call consumes
// the next queued step; requests are recorded for assertions.
type mockService struct {
	mu       sync.Mutex
	steps    []mockStep
	Requests []Request

	tokenCounts []int
	countErr    error
	CountCalls  int
}

type mockStep struct {
	resp *Response
	err  error
}

func newMockService() *mockService {
	return &mockService{}
}

func (m *mockService) Name() string { return "mock" }

// queueText scripts a text-only response.
func (m *mockService) queueText(text string) {
	m.steps = append(m.steps, mockStep{resp: &Response{
		Parts: []Part{{Type: PartText, Text: text}},
	}})
}

// queueToolCalls scripts a response holding optional leading text plus the
// given tool calls.
func (m *mockService) queueToolCalls(text string, calls ...ToolCall) {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	m.steps = append(m.steps, mockStep{resp: &Response{Parts: parts}})
}

// queueError scripts a failing attempt.
func (m *mockService) queueError(err error) {
	m.steps = append(m.steps, mockStep{err: err})
}

func (m *mockService) Complete(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.steps) == 0 {
		return nil, fmt.Errorf("mock service: no scripted response for request %d", len(m.Requests))
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

// CountTokens returns the next scripted count, repeating the last one once
// the script runs out.
func (m *mockService) CountTokens(_ context.Context, _ Request) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CountCalls++
	if m.countErr != nil {
		return 0, m.countErr
	}
	if len(m.tokenCounts) == 0 {
		return 10, nil
	}
	count := m.tokenCounts[0]
	if len(m.tokenCounts) > 1 {
		m.tokenCounts = m.tokenCounts[1:]
	}
	return count, nil
}

// mockGateway records invocations and answers from a per-tool script.
type mockGateway struct {
	mu      sync.Mutex
	results map[string]*GatewayResult
	errs    map[string]error
	Calls   []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		results: make(map[string]*GatewayResult),
		errs:    make(map[string]error),
	}
}

func (g *mockGateway) setResult(name, text string) {
	g.results[name] = &GatewayResult{Items: []GatewayItem{{Text: text}}}
}

func (g *mockGateway) setError(name string, err error) {
	g.errs[name] = err
}

func (g *mockGateway) Invoke(_ context.Context, name string, _ json.RawMessage) (*GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, name)
	if err, ok := g.errs[name]; ok {
		return nil, err
	}
	if result, ok := g.results[name]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

func (g *mockGateway) ListTools(_ context.Context) ([]ToolSpec, error) {
	return nil, nil
}

// memoryStore is an in-memory Store recording each snapshot.
type memoryStore struct {
	mu    sync.Mutex
	saved [][]Message
}

func (s *memoryStore) Load(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, nil
	}
	return CloneMessages(s.saved[len(s.saved)-1]), nil
}

func (s *memoryStore) Save(_ context.Context, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, CloneMessages(messages))
	return nil
}

// callPart builds a tool call part for transcript fixtures.
func callPart(id, name string) Part {
	return Part{Type: PartToolCall, ToolCall: &ToolCall{
		ID:        id,
		Name:      name,
		Arguments: json.RawMessage(`{}`),
	}}
}

// resultPart builds a tool result part for transcript fixtures.
func resultPart(id, content string) Part {
	return Part{Type: PartToolResult, ToolResult: &ToolResult{ID: id, Content: content}}
}
