// Package history persists chat conversations behind a uniform Store
// contract with three interchangeable strategies: flat-file JSON,
// PostgreSQL, and PostgreSQL fronted by a write-through Redis cache.
package history

import (
	"context"
	"errors"
)

var (
	// ErrUserIDRequired is returned when a user-scoped storage mode is
	// called without a user id. This is a deployment mistake, not a data
	// condition, so it propagates to the caller.
	ErrUserIDRequired = errors.New("history: user id required for this storage mode")

	// ErrConversationIDRequired is returned on save with an empty id.
	ErrConversationIDRequired = errors.New("history: conversation id required")
)

// Store is the backend-agnostic persistence contract. All three backends
// present identical semantics to callers:
//
//   - Get returns (nil, nil) for an absent conversation. A conversation
//     owned by another user is indistinguishable from an absent one.
//   - Delete of an absent (or foreign) conversation is a no-op.
//   - Save fully replaces the stored conversation; message sequence
//     numbers come out contiguous from 0 after every save.
type Store interface {
	List(ctx context.Context, userID string) ([]Entry, error)
	Get(ctx context.Context, id, userID string) (*Conversation, error)
	Save(ctx context.Context, id, userID string, conv *Conversation) error
	Delete(ctx context.Context, id, userID string) error
}
