package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Mode selects one storage strategy at construction time. There is no
// runtime mode switching.
type Mode string

const (
	ModeLocal    Mode = "local"    // flat-file JSON, single-tenant
	ModePostgres Mode = "postgres" // relational, user-scoped
	ModeRedis    Mode = "redis"    // relational + write-through cache
)

// ParseMode maps configured mode strings, including the deployment
// aliases local_psql and local_redis, onto the closed Mode set.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return ModeLocal, nil
	case "postgres", "local_psql":
		return ModePostgres, nil
	case "redis", "local_redis":
		return ModeRedis, nil
	}
	return "", fmt.Errorf("history: unsupported storage mode %q", s)
}

// Options carries the dependencies for each mode. Only the fields the
// selected mode needs are consulted; a missing dependency fails the
// construction rather than a later call.
type Options struct {
	Mode        Mode
	BaseDir     string        // local mode: parent of the .chat_history dir
	DB          *gorm.DB      // postgres and redis modes
	Redis       *redis.Client // redis mode
	HistoryDays int           // listing retention window
	CacheTTL    time.Duration // redis mode: cached entry time-to-live
}

// Manager is the single entry point the UI layer talks to. It dispatches
// to the backend selected at construction and enforces the user-scoping
// contract: scoped modes require a user id, local mode ignores it.
type Manager struct {
	mode   Mode
	store  Store
	scoped bool
}

func NewManager(opts Options) (*Manager, error) {
	switch opts.Mode {
	case ModeLocal:
		st, err := NewLocalStore(opts.BaseDir)
		if err != nil {
			return nil, err
		}
		return &Manager{mode: ModeLocal, store: st}, nil
	case ModePostgres:
		st, err := NewPostgresStore(opts.DB, opts.HistoryDays)
		if err != nil {
			return nil, err
		}
		return &Manager{mode: ModePostgres, store: st, scoped: true}, nil
	case ModeRedis:
		backend, err := NewPostgresStore(opts.DB, opts.HistoryDays)
		if err != nil {
			return nil, err
		}
		st, err := NewCachedStore(backend, opts.Redis, opts.CacheTTL)
		if err != nil {
			return nil, err
		}
		return &Manager{mode: ModeRedis, store: st, scoped: true}, nil
	}
	return nil, fmt.Errorf("history: unsupported storage mode %q", opts.Mode)
}

// Mode returns the strategy selected at construction.
func (m *Manager) Mode() Mode { return m.mode }

// Scoped reports whether conversations are owned per user.
func (m *Manager) Scoped() bool { return m.scoped }

func (m *Manager) requireUser(userID string) error {
	if m.scoped && userID == "" {
		return ErrUserIDRequired
	}
	return nil
}

func (m *Manager) List(ctx context.Context, userID string) ([]Entry, error) {
	if err := m.requireUser(userID); err != nil {
		return nil, err
	}
	return m.store.List(ctx, userID)
}

func (m *Manager) Get(ctx context.Context, id, userID string) (*Conversation, error) {
	if err := m.requireUser(userID); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, id, userID)
}

// Save persists the full document. Timestamps are normalized so the
// created_at <= last_modified invariant holds for every stored copy.
func (m *Manager) Save(ctx context.Context, id string, conv *Conversation, userID string) error {
	if err := m.requireUser(userID); err != nil {
		return err
	}
	if id == "" {
		return ErrConversationIDRequired
	}
	if conv == nil {
		return errors.New("history: conversation required")
	}
	c := *conv
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastModified.Before(c.CreatedAt) {
		c.LastModified = c.CreatedAt
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return m.store.Save(ctx, id, userID, &c)
}

func (m *Manager) Delete(ctx context.Context, id, userID string) error {
	if err := m.requireUser(userID); err != nil {
		return err
	}
	return m.store.Delete(ctx, id, userID)
}
