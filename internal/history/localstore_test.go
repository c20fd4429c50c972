package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLocalFixture(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	return st
}

func sampleConversation(msgCount int) *Conversation {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conv := &Conversation{
		Title:        "New chat",
		Model:        "gpt-4o-mini",
		Messages:     []Message{},
		CreatedAt:    created,
		LastModified: created,
	}
	for i := 0; i < msgCount; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		ts := created.Add(time.Duration(i+1) * time.Second)
		conv.Messages = append(conv.Messages, Message{Role: role, Content: "msg", Time: ts})
		conv.LastModified = ts
	}
	return conv
}

func TestLocalSaveGetRoundTrip(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	conv := sampleConversation(2)
	if err := st.Save(ctx, "abc123", "", conv); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected conversation, got nil")
	}
	if got.Title != conv.Title || got.Model != conv.Model {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) || !got.LastModified.Equal(conv.LastModified) {
		t.Fatalf("timestamp mismatch: %+v", got)
	}

	// No temp file may survive a successful save.
	if _, err := os.Stat(filepath.Join(st.Dir(), "abc123.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLocalSaveIsPrettyPrintedJSON(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	if err := st.Save(ctx, "pretty", "", sampleConversation(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(st.Dir(), "pretty.json"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("file is not valid json: %v", err)
	}
	if data[0] != '{' || data[1] != '\n' {
		t.Fatalf("expected indented json, got %q...", data[:16])
	}
}

func TestLocalSaveReplacesAtomically(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	if err := st.Save(ctx, "abc123", "", sampleConversation(1)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	updated := sampleConversation(3)
	updated.Title = "updated"
	if err := st.Save(ctx, "abc123", "", updated); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "updated" || len(got.Messages) != 3 {
		t.Fatalf("expected replaced document, got title=%q messages=%d", got.Title, len(got.Messages))
	}
}

// A crash between writing the temp file and the rename must leave the
// previous version readable; a stray temp file never shadows the real one.
func TestLocalStaleTempFileIsIgnored(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	if err := st.Save(ctx, "abc123", "", sampleConversation(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Simulate a crash mid-save: temp file written, rename never happened.
	tmp := filepath.Join(st.Dir(), "abc123.json.tmp")
	if err := os.WriteFile(tmp, []byte("{\"title\": \"half-writ"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "New chat" {
		t.Fatalf("previous version lost: %+v", got)
	}

	entries, err := st.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "abc123" {
		t.Fatalf("unexpected listing: %+v", entries)
	}
}

func TestLocalListSortedAndSkipsCorrupt(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	for _, id := range []string{"zz", "aa", "mm"} {
		if err := st.Save(ctx, id, "", sampleConversation(1)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Corrupt document on disk: excluded from listing, not an error.
	if err := os.WriteFile(filepath.Join(st.Dir(), "bad.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}

	entries, err := st.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"aa", "mm", "zz"} {
		if entries[i].ID != want {
			t.Fatalf("expected sorted ids, got %v", []string{entries[0].ID, entries[1].ID, entries[2].ID})
		}
	}

	// Direct get of the corrupt id is absent, not an error.
	got, err := st.Get(ctx, "bad", "")
	if err != nil {
		t.Fatalf("get corrupt: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for corrupt document")
	}
}

func TestLocalDeleteAbsentIsNoop(t *testing.T) {
	st := newLocalFixture(t)
	ctx := context.Background()

	if err := st.Delete(ctx, "never-existed", ""); err != nil {
		t.Fatalf("delete absent: %v", err)
	}

	if err := st.Save(ctx, "abc123", "", sampleConversation(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Delete(ctx, "abc123", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := st.Get(ctx, "abc123", "")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent after delete")
	}
	// Idempotent.
	if err := st.Delete(ctx, "abc123", ""); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
