package history

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn inside a conversation. Its position in the
// Conversation.Messages slice is its sequence number.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Conversation is the unit of chat history: metadata plus the ordered
// message list. CreatedAt never moves after the first save; LastModified
// is bumped on every message exchange.
type Conversation struct {
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Entry pairs a conversation with its id in listing results.
type Entry struct {
	ID           string       `json:"id"`
	Conversation Conversation `json:"conversation"`
}
