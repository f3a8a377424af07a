package provider

import (
	"context"
	"strings"
	"sync"
)

// StubProvider is a deterministic provider for tests. Embed returns the
// vector registered for a text, or Default; Err forces every call to fail.
type StubProvider struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Default []float32
	Err     error
	Reply   string

	embedCalls int
	lastChat   []Message
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		Vectors: make(map[string][]float32),
		Default: []float32{0.1, 0.2, 0.3},
		Reply:   "Here is what I found in your food log.",
	}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.lastChat = append([]Message(nil), messages...)

	var words int
	for _, msg := range messages {
		words += len(strings.Fields(msg.Content))
	}
	return &Response{
		Content: m.Reply,
		Usage:   Usage{PromptTokens: words, CompletionTokens: len(strings.Fields(m.Reply)), TotalTokens: words + len(strings.Fields(m.Reply))},
	}, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return append([]float32(nil), m.Default...), nil
}

// EmbedCalls reports how many times Embed reached the stub.
func (m *StubProvider) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// LastChat returns the messages of the most recent successful Chat call.
func (m *StubProvider) LastChat() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChat
}

func (m *StubProvider) Name() string {
	return "stub"
}
