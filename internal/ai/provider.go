// Package ai holds the language-model boundary. The persistence core
// never calls it; only the HTTP chat-turn handler does.
package ai

import "context"

type Message struct {
	Role    string
	Content string
}

// Provider produces an assistant reply for an ordered message history.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
