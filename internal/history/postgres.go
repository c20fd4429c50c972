package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultHistoryDays = 7

type conversationRow struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;type:varchar(64)"`
	UserClientID   string    `gorm:"column:user_client_id;type:varchar(64);index;not null"`
	Title          string    `gorm:"type:varchar(255);not null"`
	Model          string    `gorm:"type:varchar(64);not null"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null"`
	LastModified   time.Time `gorm:"column:last_modified;type:timestamptz;not null;index"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;type:varchar(64)"`
	SequenceNumber int       `gorm:"column:sequence_number;primaryKey;autoIncrement:false"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Content        string    `gorm:"type:text;not null"`
	Timestamp      time.Time `gorm:"type:timestamptz;not null"`
}

func (messageRow) TableName() string { return "messages" }

// PostgresStore is the relational system of record: a conversations table
// keyed by id and scoped by owner, plus a messages table ordered by
// (conversation_id, sequence_number). Saves replace the whole message set
// in one transaction, so stale or duplicate messages cannot survive a save.
type PostgresStore struct {
	db          *gorm.DB
	historyDays int
}

// NewPostgresStore bootstraps the schema and returns the store.
// historyDays bounds how far back List reaches; values <= 0 fall back to
// the default window.
func NewPostgresStore(db *gorm.DB, historyDays int) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("history: gorm db required for postgres mode")
	}
	if historyDays <= 0 {
		historyDays = defaultHistoryDays
	}
	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("history: migrate schema: %w", err)
	}
	return &PostgresStore{db: db, historyDays: historyDays}, nil
}

// List returns the caller's conversations created within the retention
// window, newest activity first. Messages are deliberately left empty so
// listing stays cheap; Get loads them on demand.
func (s *PostgresStore) List(ctx context.Context, userID string) ([]Entry, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.historyDays)
	var rows []conversationRow
	if err := s.db.WithContext(ctx).
		Where("user_client_id = ? AND created_at >= ?", userID, cutoff).
		Order("last_modified DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("history: list conversations: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{ID: r.ConversationID, Conversation: Conversation{
			Title:        r.Title,
			Model:        r.Model,
			Messages:     []Message{},
			CreatedAt:    r.CreatedAt,
			LastModified: r.LastModified,
		}})
	}
	return entries, nil
}

// Get loads the full conversation. Ownership is enforced in the query:
// a conversation owned by someone else comes back as absent, not as an
// error, so existence never leaks across users.
func (s *PostgresStore) Get(ctx context.Context, id, userID string) (*Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_client_id = ?", id, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: get conversation %s: %w", id, err)
	}

	var msgRows []messageRow
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("sequence_number ASC").
		Find(&msgRows).Error; err != nil {
		return nil, fmt.Errorf("history: load messages for %s: %w", id, err)
	}

	msgs := make([]Message, 0, len(msgRows))
	for _, m := range msgRows {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content, Time: m.Timestamp})
	}
	return &Conversation{
		Title:        row.Title,
		Model:        row.Model,
		Messages:     msgs,
		CreatedAt:    row.CreatedAt,
		LastModified: row.LastModified,
	}, nil
}

// Save upserts the metadata row (created_at is preserved on conflict),
// deletes every existing message row and reinserts the incoming set with
// contiguous sequence numbers, all inside one transaction. Either the
// whole save lands or the prior state survives untouched.
func (s *PostgresStore) Save(ctx context.Context, id, userID string, conv *Conversation) error {
	row := conversationRow{
		ConversationID: id,
		UserClientID:   userID,
		Title:          conv.Title,
		Model:          conv.Model,
		CreatedAt:      conv.CreatedAt,
		LastModified:   conv.LastModified,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "model", "last_modified"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if len(conv.Messages) == 0 {
			return nil
		}
		msgRows := make([]messageRow, 0, len(conv.Messages))
		for i, m := range conv.Messages {
			msgRows = append(msgRows, messageRow{
				ConversationID: id,
				SequenceNumber: i,
				Role:           m.Role,
				Content:        m.Content,
				Timestamp:      m.Time,
			})
		}
		return tx.Create(&msgRows).Error
	})
	if err != nil {
		return fmt.Errorf("history: save conversation %s: %w", id, err)
	}
	return nil
}

// Delete removes the conversation and its messages if the caller owns it.
// Deleting an absent or foreign conversation is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, id, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND user_client_id = ?", id, userID).
			Delete(&conversationRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("history: delete conversation %s: %w", id, err)
	}
	return nil
}
