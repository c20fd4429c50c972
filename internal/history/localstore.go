package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const localSubdir = ".chat_history"

// LocalStore keeps one pretty-printed JSON file per conversation under
// <baseDir>/.chat_history. It is single-tenant: the userID argument is
// ignored on every operation.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the storage directory on first use.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, errors.New("history: base dir required for local mode")
	}
	dir := filepath.Join(baseDir, localSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create store dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the directory conversations are stored under.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// List enumerates all persisted conversations sorted by id. Files that
// fail to parse are logged and excluded, never surfaced as errors.
func (s *LocalStore) List(ctx context.Context, userID string) ([]Entry, error) {
	_ = userID
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("history: read store dir: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		conv, ok := s.readFile(s.path(id))
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: id, Conversation: *conv})
	}
	return entries, nil
}

// Get returns the conversation or nil when the file is absent or corrupt.
func (s *LocalStore) Get(ctx context.Context, id, userID string) (*Conversation, error) {
	_ = userID
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv, _ := s.readFile(s.path(id))
	return conv, nil
}

// Save writes the document atomically: serialize to a temp file in the
// same directory, then rename over the final path. A crash mid-write
// leaves the previous version intact, never a truncated file.
func (s *LocalStore) Save(ctx context.Context, id, userID string, conv *Conversation) error {
	_ = userID
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal conversation %s: %w", id, err)
	}
	final := s.path(id)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: write conversation %s: %w", id, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("history: replace conversation %s: %w", id, err)
	}
	return nil
}

// Delete removes the conversation file; deleting an absent id is a no-op.
func (s *LocalStore) Delete(ctx context.Context, id, userID string) error {
	_ = userID
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("history: delete conversation %s: %w", id, err)
	}
	return nil
}

// readFile loads and parses a conversation file. Corrupt or unreadable
// files are reported to operators via the log but excluded from results,
// matching the caller-visible contract of Get and List.
func (s *LocalStore) readFile(path string) (*Conversation, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("skipping unreadable conversation file", "path", path, "error", err)
		}
		return nil, false
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		slog.Warn("skipping corrupt conversation file", "path", path, "error", err)
		return nil, false
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return &conv, true
}
