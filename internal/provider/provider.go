// Package provider adapts remote model APIs to the small interfaces larder
// needs: text embeddings for indexing and chat completions for the
// assistant.
package provider

import (
	"context"
	"errors"
)

// ErrNoEmbedding is returned when a service answers without a vector.
var ErrNoEmbedding = errors.New("no embedding returned")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Embedder turns text into a vector using a remote service. Implementations
// report every failure as an error; the embedding package decides how to
// recover.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "stub", "openai").
	Name() string
}

// Chatter sends a conversation to a model and returns its reply.
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (*Response, error)
	Name() string
}

// Provider is implemented by services offering both capabilities.
type Provider interface {
	Embedder
	Chatter
}
