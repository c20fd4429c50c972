package history

import (
	"context"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	st, err := NewPostgresStore(openTestDB(t), 7)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func TestSequenceContiguityAcrossSaves(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, "abc123", "userA", sampleConversation(3)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := st.Save(ctx, "abc123", "userA", sampleConversation(5)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var rows []messageRow
	if err := st.db.Where("conversation_id = ?", "abc123").
		Order("sequence_number ASC").
		Find(&rows).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 message rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.SequenceNumber != i {
			t.Fatalf("expected contiguous sequence numbers, got %d at position %d", r.SequenceNumber, i)
		}
	}
}

func TestOwnershipIsolation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, "abc123", "userA", sampleConversation(2)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// B cannot see A's conversation; absence, not an error.
	got, err := st.Get(ctx, "abc123", "userB")
	if err != nil {
		t.Fatalf("cross-user get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent for foreign user")
	}

	// B's delete is a no-op.
	if err := st.Delete(ctx, "abc123", "userB"); err != nil {
		t.Fatalf("cross-user delete: %v", err)
	}
	got, err = st.Get(ctx, "abc123", "userA")
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got == nil {
		t.Fatalf("owner's conversation vanished after foreign delete")
	}

	entries, err := st.List(ctx, "userB")
	if err != nil {
		t.Fatalf("list userB: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty listing for userB, got %d", len(entries))
	}
}

func TestRetentionWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old := sampleConversation(1)
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -8)
	old.LastModified = old.CreatedAt
	if err := st.Save(ctx, "old", "userA", old); err != nil {
		t.Fatalf("save old: %v", err)
	}

	recent := sampleConversation(1)
	recent.CreatedAt = time.Now().UTC().Add(-time.Hour)
	recent.LastModified = recent.CreatedAt
	if err := st.Save(ctx, "recent", "userA", recent); err != nil {
		t.Fatalf("save recent: %v", err)
	}

	entries, err := st.List(ctx, "userA")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "recent" {
		t.Fatalf("expected only the recent conversation, got %+v", entries)
	}
}

func TestListMetadataOnlyNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"first", "second", "third"} {
		conv := sampleConversation(2)
		conv.CreatedAt = base
		conv.LastModified = base.Add(time.Duration(i) * time.Minute)
		if err := st.Save(ctx, id, "userA", conv); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	entries, err := st.List(ctx, "userA")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "third" || entries[2].ID != "first" {
		t.Fatalf("expected newest-activity-first order, got %v",
			[]string{entries[0].ID, entries[1].ID, entries[2].ID})
	}
	for _, e := range entries {
		if e.Conversation.Messages == nil || len(e.Conversation.Messages) != 0 {
			t.Fatalf("listing must omit messages, got %d for %s", len(e.Conversation.Messages), e.ID)
		}
	}
}

func TestSavePreservesCreatedAt(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conv := sampleConversation(1)
	if err := st.Save(ctx, "abc123", "userA", conv); err != nil {
		t.Fatalf("first save: %v", err)
	}

	resave := sampleConversation(2)
	resave.Title = "renamed"
	resave.CreatedAt = conv.CreatedAt.Add(48 * time.Hour) // must be ignored by the upsert
	resave.LastModified = conv.LastModified.Add(time.Minute)
	if err := st.Save(ctx, "abc123", "userA", resave); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "userA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Fatalf("created_at changed on re-save: %v != %v", got.CreatedAt, conv.CreatedAt)
	}
	if got.Title != "renamed" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if !got.LastModified.Equal(resave.LastModified) {
		t.Fatalf("last_modified not updated: %v", got.LastModified)
	}
}

func TestDeleteCascadesToMessages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, "abc123", "userA", sampleConversation(4)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Delete(ctx, "abc123", "userA"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "userA")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent after delete")
	}

	var count int64
	if err := st.db.Model(&messageRow{}).
		Where("conversation_id = ?", "abc123").
		Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no orphaned message rows, got %d", count)
	}

	// Deleting again is a no-op.
	if err := st.Delete(ctx, "abc123", "userA"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestChatTurnScenario(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conv := &Conversation{
		Title:        "New chat",
		Model:        "gpt-4o-mini",
		Messages:     []Message{},
		CreatedAt:    t0,
		LastModified: t0,
	}
	if err := st.Save(ctx, "abc123", "userA", conv); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	conv.Messages = append(conv.Messages,
		Message{Role: RoleUser, Content: "Hi", Time: t0.Add(time.Second)},
		Message{Role: RoleAssistant, Content: "Hello!", Time: t0.Add(2 * time.Second)},
	)
	conv.LastModified = t0.Add(2 * time.Second)
	if err := st.Save(ctx, "abc123", "userA", conv); err != nil {
		t.Fatalf("save turn: %v", err)
	}

	got, err := st.Get(ctx, "abc123", "userA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected conversation")
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != RoleUser || got.Messages[0].Content != "Hi" {
		t.Fatalf("unexpected first message: %+v", got.Messages[0])
	}
	if got.Messages[1].Role != RoleAssistant || got.Messages[1].Content != "Hello!" {
		t.Fatalf("unexpected second message: %+v", got.Messages[1])
	}
	if !got.LastModified.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("unexpected last_modified: %v", got.LastModified)
	}
	if got.Title != "New chat" {
		t.Fatalf("title changed unexpectedly: %q", got.Title)
	}
}
