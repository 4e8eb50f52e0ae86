package attribution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
)

// SessionStore keeps one snapshot per session. Entries expire after the
// store's TTL.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (snap model.AttributionSnapshot, found bool, err error)
	Put(ctx context.Context, sessionID string, snap model.AttributionSnapshot) error
}

// MemorySessionStore is an in-process SessionStore with TTL eviction.
type MemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	snap    model.AttributionSnapshot
	expires time.Time
}

// NewMemorySessionStore creates a store whose entries live for ttl after the
// last write.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, now: time.Now, entries: make(map[string]memEntry)}
}

// Get returns the live snapshot for sessionID.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (model.AttributionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return model.AttributionSnapshot{}, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, sessionID)
		return model.AttributionSnapshot{}, false, nil
	}
	return e.snap, true, nil
}

// Put stores snap and refreshes its TTL. Expired entries are swept on write.
func (s *MemorySessionStore) Put(_ context.Context, sessionID string, snap model.AttributionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
	s.entries[sessionID] = memEntry{snap: snap, expires: now.Add(s.ttl)}
	return nil
}

// Len returns the number of stored sessions, live or not yet swept.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// redisKV is the subset of *redis.Client used by RedisSessionStore.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSessionStore keeps snapshots as JSON under "attribution:<session>".
type RedisSessionStore struct {
	client redisKV
	ttl    time.Duration
}

// NewRedisSessionStore creates a Redis-backed store.
func NewRedisSessionStore(client redisKV, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "attribution:" + id }

// Get loads the snapshot for sessionID.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (model.AttributionSnapshot, bool, error) {
	var snap model.AttributionSnapshot
	b, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, eris.Wrap(err, "attribution: redis get")
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, false, eris.Wrap(err, "attribution: decode snapshot")
	}
	return snap, true, nil
}

// Put writes the snapshot and refreshes its TTL.
func (s *RedisSessionStore) Put(ctx context.Context, sessionID string, snap model.AttributionSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "attribution: encode snapshot")
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), b, s.ttl).Err(); err != nil {
		return eris.Wrap(err, "attribution: redis set")
	}
	return nil
}
