package common

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a lexically sortable request id.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConversationID returns a short URL-safe conversation id, the first
// eight hex characters of a random UUID.
func NewConversationID() string {
	return uuid.NewString()[:8]
}
