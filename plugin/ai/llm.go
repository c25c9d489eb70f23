package ai

import (
	"context"
	"errors"
)

// Chat roles understood by every completion backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the upstream model produced no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Params are the sampling parameters of one completion.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// CompletionRequest is a single persona turn sent to the model.
type CompletionRequest struct {
	SystemInstruction string
	History           []Message // oldest-first, already mapped to roles
	UserText          string
	Params            Params
}

// Messages flattens the request into the chat message list sent upstream.
func (r CompletionRequest) Messages() []Message {
	return FormatMessages(r.SystemInstruction, r.UserText, r.History)
}

// CompletionProvider turns a completion request into raw reply text.
// Implementations must be safe for concurrent use.
// CompletionProvider 将补全请求转换为原始回复文本，需并发安全。
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionFunc adapts a function to CompletionProvider.
type CompletionFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f CompletionFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// FormatMessages lays out system prompt, history and the new user turn in order.
func FormatMessages(systemPrompt string, userContent string, history []Message) []Message {
	messages := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, SystemPrompt(systemPrompt))
	}
	messages = append(messages, history...)
	messages = append(messages, UserMessage(userContent))
	return messages
}
