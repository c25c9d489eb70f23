package store

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type Message struct {
	ID        string
	SessionID string
	// PersonaID is empty for messages from the human user.
	PersonaID string
	Role      MessageRole
	Content   string
	Emotion   string
	DelayMs   int64
	Seq       int64
	CreatedTs int64
}

type FindMessage struct {
	SessionID string
	// Limit keeps only the most recent messages. Results are always oldest-first.
	Limit int
}
