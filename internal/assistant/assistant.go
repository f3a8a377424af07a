// Package assistant answers nutrition questions with a chat model, grounding
// questions about the user's own history in retrieved food-log context.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/larder/internal/observe"
	"github.com/felixgeelhaar/larder/internal/provider"
	"github.com/felixgeelhaar/larder/internal/retrieval"
)

const basePrompt = `You are a world-class nutritionist and personal food assistant. Your responses should be concise and focused on nutrition-related topics. You help users track their food intake, provide nutritional advice, and answer questions about their eating habits.

Capabilities:
- Answer questions about food, nutrition, and health
- Suggest healthy food options and meal plans
- Provide nutritional information and calorie estimates
- Analyze eating patterns and provide personalized advice
- Help users understand their food logs and dietary habits

When users ask about their food intake or eating history, use the provided food log data to give accurate, personalized responses.`

// NoResponse is returned when the model answers with empty content.
const NoResponse = "No response from AI."

// MaxHistory bounds the messages replayed to the model, ten exchanges.
const MaxHistory = 20

// Retriever produces formatted food-log context for a question.
type Retriever interface {
	Query(ctx context.Context, user, text string) (string, error)
}

// HistoryStore persists conversations between processes. Data is the JSON
// encoding of the user's messages.
type HistoryStore interface {
	GetHistory(user string) ([]byte, error)
	PutHistory(user string, data []byte) error
	DeleteHistory(user string) (bool, error)
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithHistoryStore loads and saves conversations through s, so a
// conversation survives the process that started it.
func WithHistoryStore(s HistoryStore) Option {
	return func(a *Assistant) { a.store = s }
}

// Assistant keeps a per-user conversation, in memory and optionally in a
// HistoryStore.
type Assistant struct {
	retriever Retriever
	chat      provider.Chatter
	obs       *observe.Observer
	store     HistoryStore

	mu      sync.Mutex
	history map[string][]provider.Message
}

// New creates an Assistant.
func New(r Retriever, chat provider.Chatter, obs *observe.Observer, opts ...Option) *Assistant {
	if obs == nil {
		obs = observe.Discard()
	}
	a := &Assistant{
		retriever: r,
		chat:      chat,
		obs:       obs,
		history:   make(map[string][]provider.Message),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// load returns the user's conversation, reading it from the store on first
// use. It must be called with a.mu held. An unreadable stored conversation
// is logged and treated as empty.
func (a *Assistant) load(user string) []provider.Message {
	if msgs, ok := a.history[user]; ok || a.store == nil {
		return msgs
	}

	var msgs []provider.Message
	data, err := a.store.GetHistory(user)
	if err == nil && data != nil {
		err = json.Unmarshal(data, &msgs)
	}
	if err != nil {
		a.obs.Log().Warn().Str("user", user).Err(err).Msg("ignoring stored conversation")
		msgs = nil
	}
	if msgs != nil {
		a.history[user] = msgs
	}
	return msgs
}

// SystemPrompt returns the system message, extended with foodContext when
// it is non-empty.
func SystemPrompt(foodContext string) string {
	if foodContext == "" {
		return basePrompt
	}
	return basePrompt + `

IMPORTANT: The user is asking about their food history. Here is their relevant food log data:

` + foodContext + `

Use this information to provide accurate, specific answers about their eating habits, nutritional intake, and dietary patterns. Be conversational and helpful.`
}

// Ask sends question to the chat model and records the exchange.
func (a *Assistant) Ask(ctx context.Context, user, question string) (answer string, err error) {
	ctx, span := a.obs.StartSpan(ctx, "assistant.Ask")
	defer span.End()
	defer func() { a.obs.Metrics().Operation("ask", err) }()

	var foodContext string
	if retrieval.IsHistoryQuery(question) {
		foodContext, err = a.retriever.Query(ctx, user, question)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve food context: %w", err)
		}
		a.obs.Log().Info().
			Str("user", user).
			Int("context_chars", len(foodContext)).
			Msg("retrieved food context")
	}

	a.mu.Lock()
	past := append([]provider.Message(nil), a.load(user)...)
	a.mu.Unlock()

	messages := make([]provider.Message, 0, len(past)+2)
	messages = append(messages, provider.Message{Role: "system", Content: SystemPrompt(foodContext)})
	messages = append(messages, past...)
	messages = append(messages, provider.Message{Role: "user", Content: question})

	resp, err := a.chat.Chat(ctx, messages)
	if err != nil {
		a.obs.Log().Error().Str("provider", a.chat.Name()).Err(err).Msg("chat request failed")
		return "", fmt.Errorf("failed to get response from %s: %w", a.chat.Name(), err)
	}

	answer = resp.Content
	if answer == "" {
		answer = NoResponse
	}

	a.mu.Lock()
	msgs := append(a.load(user),
		provider.Message{Role: "user", Content: question},
		provider.Message{Role: "assistant", Content: answer},
	)
	if len(msgs) > MaxHistory {
		msgs = append([]provider.Message(nil), msgs[len(msgs)-MaxHistory:]...)
	}
	a.history[user] = msgs
	a.save(user, msgs)
	a.mu.Unlock()
	return answer, nil
}

// save writes msgs to the store. Failures are logged; the answer has
// already been produced.
func (a *Assistant) save(user string, msgs []provider.Message) {
	if a.store == nil {
		return
	}
	data, err := json.Marshal(msgs)
	if err == nil {
		err = a.store.PutHistory(user, data)
	}
	if err != nil {
		a.obs.Log().Warn().Str("user", user).Err(err).Msg("failed to save conversation")
	}
}

// History returns a copy of the conversation kept for user.
func (a *Assistant) History(user string) []provider.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.Message(nil), a.load(user)...)
}

// Reset forgets the conversation for user and reports whether there was one.
func (a *Assistant) Reset(user string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.history[user]
	delete(a.history, user)
	if a.store != nil {
		stored, err := a.store.DeleteHistory(user)
		if err != nil {
			a.obs.Log().Error().Str("user", user).Err(err).Msg("failed to clear stored conversation")
		}
		ok = ok || stored
	}
	if !ok {
		a.obs.Log().Warn().Str("user", user).Msg("no conversation history to clear")
		return false
	}
	return true
}
