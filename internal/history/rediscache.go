package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL  = 30 * time.Minute
	cachePingTimeout = 2 * time.Second
)

// CachedStore fronts another Store with a Redis write-through cache. Two
// shapes are cached per the key conventions below: a per-user sorted set
// of metadata entries scored by last_modified, and a per-conversation
// list of messages carrying their own sequence numbers.
//
// The cache is never authoritative: the backend is written first on every
// mutation, and any cache failure degrades to a miss rather than failing
// the caller's operation.
type CachedStore struct {
	backend   Store
	rdb       *redis.Client
	ttl       time.Duration
	available bool
}

type cachedMetadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

type cachedMessage struct {
	SequenceNumber int       `json:"sequence_number"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Time           time.Time `json:"time"`
}

func metadataKey(userID string) string { return fmt.Sprintf("chat:%s:conversations", userID) }
func messagesKey(id string) string     { return fmt.Sprintf("chat:%s:messages", id) }

// NewCachedStore probes connectivity once; if the ping fails, the store
// operates as a transparent pass-through to the backend.
func NewCachedStore(backend Store, rdb *redis.Client, ttl time.Duration) (*CachedStore, error) {
	if backend == nil {
		return nil, errors.New("history: backend store required for cached mode")
	}
	if rdb == nil {
		return nil, errors.New("history: redis client required for cached mode")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	s := &CachedStore{backend: backend, rdb: rdb, ttl: ttl}

	ctx, cancel := context.WithTimeout(context.Background(), cachePingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, caching disabled", "error", err)
	} else {
		s.available = true
	}
	return s, nil
}

// Available reports whether the construction-time connectivity probe
// succeeded.
func (s *CachedStore) Available() bool { return s.available }

// List serves from the cached metadata set when possible; a hit refreshes
// the TTL and never consults the backend. On miss the backend result is
// written back before returning.
func (s *CachedStore) List(ctx context.Context, userID string) ([]Entry, error) {
	if s.available {
		if entries, ok := s.listFromCache(ctx, userID); ok {
			return entries, nil
		}
	}
	entries, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.available {
		s.populateMetadata(ctx, userID, entries)
	}
	return entries, nil
}

// Get combines the cached metadata entry with the cached message list; both
// must be present for a hit. On miss the backend copy repopulates the cache.
func (s *CachedStore) Get(ctx context.Context, id, userID string) (*Conversation, error) {
	if s.available {
		if conv, ok := s.getFromCache(ctx, id, userID); ok {
			return conv, nil
		}
	}
	conv, err := s.backend.Get(ctx, id, userID)
	if err != nil || conv == nil {
		return conv, err
	}
	if s.available {
		s.upsertMetadata(ctx, id, userID, conv)
		s.rewriteMessages(ctx, id, conv.Messages)
	}
	return conv, nil
}

// Save writes the backend first; only after that succeeds is the cache
// updated, so the cache can never show data that is not durably committed.
func (s *CachedStore) Save(ctx context.Context, id, userID string, conv *Conversation) error {
	if err := s.backend.Save(ctx, id, userID, conv); err != nil {
		return err
	}
	if !s.available {
		return nil
	}
	s.upsertMetadata(ctx, id, userID, conv)
	s.updateMessages(ctx, id, conv.Messages)
	return nil
}

// Delete removes from the backend first, then drops both cached shapes.
func (s *CachedStore) Delete(ctx context.Context, id, userID string) error {
	if err := s.backend.Delete(ctx, id, userID); err != nil {
		return err
	}
	if !s.available {
		return nil
	}
	key := metadataKey(userID)
	prior, found := s.findMetadataMember(ctx, userID, id)
	pipe := s.rdb.TxPipeline()
	if found {
		pipe.ZRem(ctx, key, prior)
	}
	pipe.Del(ctx, messagesKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache delete failed", "conversation_id", id, "error", err)
	}
	return nil
}

func (s *CachedStore) listFromCache(ctx context.Context, userID string) ([]Entry, bool) {
	key := metadataKey(userID)
	members, err := s.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		slog.Warn("cache list read failed", "user_id", userID, "error", err)
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}
	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		var meta cachedMetadata
		if err := json.Unmarshal([]byte(m), &meta); err != nil {
			slog.Warn("corrupt cached metadata entry", "user_id", userID, "error", err)
			return nil, false
		}
		entries = append(entries, Entry{ID: meta.ID, Conversation: Conversation{
			Title:        meta.Title,
			Model:        meta.Model,
			Messages:     []Message{},
			CreatedAt:    meta.CreatedAt,
			LastModified: meta.LastModified,
		}})
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		slog.Warn("cache ttl refresh failed", "key", key, "error", err)
	}
	return entries, true
}

func (s *CachedStore) getFromCache(ctx context.Context, id, userID string) (*Conversation, bool) {
	meta, ok := s.findMetadata(ctx, userID, id)
	if !ok {
		return nil, false
	}
	msgKey := messagesKey(id)
	vals, err := s.rdb.LRange(ctx, msgKey, 0, -1).Result()
	if err != nil {
		slog.Warn("cache messages read failed", "conversation_id", id, "error", err)
		return nil, false
	}
	// An empty list is indistinguishable from a never-cached conversation;
	// treat it as a miss and let the backend answer.
	if len(vals) == 0 {
		return nil, false
	}
	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		var cm cachedMessage
		if err := json.Unmarshal([]byte(v), &cm); err != nil {
			slog.Warn("corrupt cached message", "conversation_id", id, "error", err)
			return nil, false
		}
		msgs = append(msgs, Message{Role: cm.Role, Content: cm.Content, Time: cm.Time})
	}
	pipe := s.rdb.TxPipeline()
	pipe.Expire(ctx, msgKey, s.ttl)
	pipe.Expire(ctx, metadataKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache ttl refresh failed", "conversation_id", id, "error", err)
	}
	return &Conversation{
		Title:        meta.Title,
		Model:        meta.Model,
		Messages:     msgs,
		CreatedAt:    meta.CreatedAt,
		LastModified: meta.LastModified,
	}, true
}

func (s *CachedStore) findMetadata(ctx context.Context, userID, id string) (cachedMetadata, bool) {
	members, err := s.rdb.ZRange(ctx, metadataKey(userID), 0, -1).Result()
	if err != nil {
		slog.Warn("cache metadata scan failed", "user_id", userID, "error", err)
		return cachedMetadata{}, false
	}
	for _, m := range members {
		var meta cachedMetadata
		if json.Unmarshal([]byte(m), &meta) != nil {
			continue
		}
		if meta.ID == id {
			return meta, true
		}
	}
	return cachedMetadata{}, false
}

// findMetadataMember returns the raw serialized member for id, needed for
// exact ZRem removal.
func (s *CachedStore) findMetadataMember(ctx context.Context, userID, id string) (string, bool) {
	members, err := s.rdb.ZRange(ctx, metadataKey(userID), 0, -1).Result()
	if err != nil {
		slog.Warn("cache metadata scan failed", "user_id", userID, "error", err)
		return "", false
	}
	for _, m := range members {
		var meta cachedMetadata
		if json.Unmarshal([]byte(m), &meta) != nil {
			continue
		}
		if meta.ID == id {
			return m, true
		}
	}
	return "", false
}

func (s *CachedStore) populateMetadata(ctx context.Context, userID string, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	key := metadataKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, e := range entries {
		member, err := json.Marshal(cachedMetadata{
			ID:           e.ID,
			Title:        e.Conversation.Title,
			Model:        e.Conversation.Model,
			CreatedAt:    e.Conversation.CreatedAt,
			LastModified: e.Conversation.LastModified,
		})
		if err != nil {
			slog.Warn("cache metadata marshal failed", "conversation_id", e.ID, "error", err)
			return
		}
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(e.Conversation.LastModified.Unix()),
			Member: member,
		})
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache metadata populate failed", "user_id", userID, "error", err)
	}
}

// upsertMetadata scans the user's sorted set for a prior entry with this
// id, removes it, and inserts the fresh one; the mutation lands in one
// pipeline flush.
func (s *CachedStore) upsertMetadata(ctx context.Context, id, userID string, conv *Conversation) {
	key := metadataKey(userID)
	prior, found := s.findMetadataMember(ctx, userID, id)
	member, err := json.Marshal(cachedMetadata{
		ID:           id,
		Title:        conv.Title,
		Model:        conv.Model,
		CreatedAt:    conv.CreatedAt,
		LastModified: conv.LastModified,
	})
	if err != nil {
		slog.Warn("cache metadata marshal failed", "conversation_id", id, "error", err)
		return
	}
	pipe := s.rdb.TxPipeline()
	if found {
		pipe.ZRem(ctx, key, prior)
	}
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(conv.LastModified.Unix()), Member: member})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache metadata update failed", "conversation_id", id, "error", err)
	}
}

// updateMessages keeps the cached list append-consistent. The common case
// on a chat turn appends only the new suffix with continued sequence
// numbers. A shrink, or a divergent rewrite detected at the append
// boundary, converges on the equivalent of delete + full rewrite.
func (s *CachedStore) updateMessages(ctx context.Context, id string, msgs []Message) {
	key := messagesKey(id)
	n, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		slog.Warn("cache messages length failed", "conversation_id", id, "error", err)
		return
	}
	cached := int(n)
	switch {
	case cached == 0:
		s.rewriteMessages(ctx, id, msgs)
	case len(msgs) < cached:
		// History shrank since it was cached.
		s.rewriteMessages(ctx, id, msgs)
	case !s.boundaryMatches(ctx, key, cached, msgs):
		s.rewriteMessages(ctx, id, msgs)
	default:
		s.appendMessages(ctx, key, cached, msgs)
	}
}

// boundaryMatches compares the last cached message against the incoming
// message at the same position. A mismatch means the history was edited
// in place, so an append would leave the cache diverged.
func (s *CachedStore) boundaryMatches(ctx context.Context, key string, cached int, msgs []Message) bool {
	raw, err := s.rdb.LIndex(ctx, key, int64(cached-1)).Result()
	if err != nil {
		slog.Warn("cache boundary read failed", "key", key, "error", err)
		return false
	}
	var last cachedMessage
	if err := json.Unmarshal([]byte(raw), &last); err != nil {
		slog.Warn("corrupt cached message", "key", key, "error", err)
		return false
	}
	m := msgs[cached-1]
	return last.SequenceNumber == cached-1 &&
		last.Role == m.Role &&
		last.Content == m.Content &&
		last.Time.Equal(m.Time)
}

func (s *CachedStore) appendMessages(ctx context.Context, key string, from int, msgs []Message) {
	pipe := s.rdb.TxPipeline()
	for i := from; i < len(msgs); i++ {
		b, err := json.Marshal(cachedMessage{
			SequenceNumber: i,
			Role:           msgs[i].Role,
			Content:        msgs[i].Content,
			Time:           msgs[i].Time,
		})
		if err != nil {
			slog.Warn("cache message marshal failed", "key", key, "error", err)
			return
		}
		pipe.RPush(ctx, key, b)
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache messages append failed", "key", key, "error", err)
	}
}

func (s *CachedStore) rewriteMessages(ctx context.Context, id string, msgs []Message) {
	key := messagesKey(id)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for i, m := range msgs {
		b, err := json.Marshal(cachedMessage{
			SequenceNumber: i,
			Role:           m.Role,
			Content:        m.Content,
			Time:           m.Time,
		})
		if err != nil {
			slog.Warn("cache message marshal failed", "conversation_id", id, "error", err)
			return
		}
		pipe.RPush(ctx, key, b)
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache messages rewrite failed", "conversation_id", id, "error", err)
	}
}
