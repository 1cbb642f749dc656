package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock returns deterministic responses for offline runs and tests.
type Mock struct {
	mu              sync.Mutex
	name            string
	responses       map[string]string
	defaultResponse string
	facts           map[string]any
	errs            []error
	delay           time.Duration
	calls           int
}

// NewMock creates a mock backend with a default response.
func NewMock(name string) *Mock {
	if name == "" {
		name = "mock"
	}
	return &Mock{
		name:            name,
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// Respond sets the answer for an exact prompt.
func (m *Mock) Respond(prompt, text string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = text
	return m
}

// WithFacts attaches structured facts to every response.
func (m *Mock) WithFacts(facts map[string]any) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = facts
	return m
}

// FailWith queues errors returned by successive calls before any success.
func (m *Mock) FailWith(errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// WithDelay makes each call wait d or until the context ends.
func (m *Mock) WithDelay(d time.Duration) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Calls reports how many times Generate ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name returns the provider identifier.
func (m *Mock) Name() string {
	return m.name
}

// Generate returns the configured answer for the prompt.
func (m *Mock) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	text, ok := m.responses[req.Prompt]
	if !ok {
		text = fmt.Sprintf("%s\n%s", m.defaultResponse, req.Prompt)
	}
	facts := m.facts
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	return &Response{Text: text, Facts: facts, Model: model, Backend: m.name}, nil
}
