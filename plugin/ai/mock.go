package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCompletionProvider is a deterministic in-process provider used by the
// "mock" LLM backend and by tests.
type MockCompletionProvider struct {
	mu       sync.Mutex
	requests []CompletionRequest

	// Reply overrides the canned reply when set.
	Reply func(ctx context.Context, req CompletionRequest) (string, error)
}

// NewMockCompletionProvider creates a new MockCompletionProvider.
func NewMockCompletionProvider() *MockCompletionProvider {
	return &MockCompletionProvider{}
}

// Complete records the request and returns the reply.
func (m *MockCompletionProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Reply != nil {
		return m.Reply(ctx, req)
	}
	return cannedReply(req), nil
}

// Requests returns a copy of every request received so far.
func (m *MockCompletionProvider) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func cannedReply(req CompletionRequest) string {
	text := strings.TrimSpace(req.UserText)
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	if text == "" {
		return "Hmm, did you mean to say something?"
	}
	return fmt.Sprintf("Interesting point about %q. I have been thinking about that too.", text)
}

var _ CompletionProvider = (*MockCompletionProvider)(nil)
