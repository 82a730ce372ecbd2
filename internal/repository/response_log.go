package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultResponseLogCapacity = 100

// ResponseLog is a capped append-only log of persisted LLM responses.
// Appending to a full log first drops its oldest half.
type ResponseLog interface {
	Append(ctx context.Context, entry domain.ResponseLogEntry) error
	// Recent returns up to limit entries, newest first. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]domain.ResponseLogEntry, error)
}

type MemoryResponseLog struct {
	mu       sync.RWMutex
	entries  []domain.ResponseLogEntry
	capacity int
}

func NewMemoryResponseLog(capacity int) *MemoryResponseLog {
	if capacity <= 0 {
		capacity = defaultResponseLogCapacity
	}
	return &MemoryResponseLog{
		entries:  make([]domain.ResponseLogEntry, 0, capacity),
		capacity: capacity,
	}
}

func (l *MemoryResponseLog) Append(_ context.Context, entry domain.ResponseLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.capacity {
		keep := l.entries[len(l.entries)/2:]
		l.entries = append(make([]domain.ResponseLogEntry, 0, l.capacity), keep...)
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryResponseLog) Recent(_ context.Context, limit int) ([]domain.ResponseLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	result := make([]domain.ResponseLogEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, l.entries[i])
	}
	return result, nil
}

// RedisResponseLog stores entries as JSON in a Redis list, oldest at the head.
type RedisResponseLog struct {
	client   redis.UniversalClient
	key      string
	capacity int
}

func NewRedisResponseLog(client redis.UniversalClient, key string, capacity int) *RedisResponseLog {
	if key == "" {
		key = "bizcase_response_log"
	}
	if capacity <= 0 {
		capacity = defaultResponseLogCapacity
	}
	return &RedisResponseLog{client: client, key: key, capacity: capacity}
}

func (l *RedisResponseLog) Append(ctx context.Context, entry domain.ResponseLogEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode response log entry: %w", err)
	}

	length, err := l.client.RPush(ctx, l.key, encoded).Result()
	if err != nil {
		return fmt.Errorf("append response log: %w", err)
	}
	if length <= int64(l.capacity) {
		return nil
	}

	// The list was full before this push; drop the oldest half of it.
	drop := (length - 1) / 2
	if err := l.client.LTrim(ctx, l.key, drop, -1).Err(); err != nil {
		return fmt.Errorf("trim response log: %w", err)
	}
	return nil
}

func (l *RedisResponseLog) Recent(ctx context.Context, limit int) ([]domain.ResponseLogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	values, err := l.client.LRange(ctx, l.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read response log: %w", err)
	}

	result := make([]domain.ResponseLogEntry, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var entry domain.ResponseLogEntry
		if err := json.Unmarshal([]byte(values[i]), &entry); err != nil {
			return nil, fmt.Errorf("decode response log entry: %w", err)
		}
		result = append(result, entry)
	}
	return result, nil
}
