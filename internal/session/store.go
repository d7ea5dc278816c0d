// Package session keeps the per-session list of answered questions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/models"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Store is append-only. List returns interactions in the order they were
// appended.
type Store interface {
	Append(ctx context.Context, sessionID string, in models.Interaction) error
	List(ctx context.Context, sessionID string) ([]models.Interaction, error)
}

// New selects a store by cfg.Store. client is only used for the redis store.
func New(cfg config.SessionConfig, client *redis.Client) (Store, error) {
	switch cfg.Store {
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("session: redis store needs a redis client")
		}
		return NewRedisStore(client, config.Millis(cfg.TTL), cfg.MaxHistory), nil
	case StoreMemory, "":
		return NewMemoryStore(cfg.MaxHistory), nil
	default:
		return nil, fmt.Errorf("session: unknown store %q", cfg.Store)
	}
}

// RedisStore keeps one list per session. Every append slides the expiry.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxHistory int
}

func NewRedisStore(client *redis.Client, ttl time.Duration, maxHistory int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxHistory: maxHistory}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, in models.Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction: %w", err)
	}

	key := historyKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.maxHistory > 0 {
		pipe.LTrim(ctx, key, int64(-s.maxHistory), -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string) ([]models.Interaction, error) {
	raw, err := s.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	out := make([]models.Interaction, 0, len(raw))
	for _, item := range raw {
		var in models.Interaction
		if err := json.Unmarshal([]byte(item), &in); err != nil {
			return nil, fmt.Errorf("corrupt session history entry: %w", err)
		}
		out = append(out, in)
	}
	return out, nil
}

// MemoryStore is process local and never expires entries.
type MemoryStore struct {
	mu         sync.RWMutex
	history    map[string][]models.Interaction
	maxHistory int
}

func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{history: make(map[string][]models.Interaction), maxHistory: maxHistory}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, in models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[sessionID], in)
	if s.maxHistory > 0 && len(h) > s.maxHistory {
		h = h[len(h)-s.maxHistory:]
	}
	s.history[sessionID] = h
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Interaction{}, s.history[sessionID]...), nil
}
