// Package dedup remembers recently seen update IDs so that updates Telegram
// delivers more than once are answered only once.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
)

// Store records update IDs for a limited time.
type Store interface {
	// Seen records updateID and reports whether it was already recorded
	// within the TTL. Recording and checking happen atomically.
	Seen(ctx context.Context, updateID int64) (bool, error)
	Close() error
}

// New builds the store selected by cfg. It returns a nil Store when
// de-duplication is disabled.
func New(cfg config.DedupConfig, logger *zap.Logger) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "memory":
		logger.Info("update de-duplication enabled", zap.String("backend", "memory"), zap.Duration("ttl", cfg.TTL))
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		store, err := NewRedisStore(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		logger.Info("update de-duplication enabled", zap.String("backend", "redis"), zap.Duration("ttl", cfg.TTL))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}

// sweepEvery is how many inserts pass between removals of expired entries.
const sweepEvery = 256

// MemoryStore is an in-process Store. Entries live in a map and expired
// ones are swept periodically on insert.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	seen    map[int64]time.Time
	inserts int
}

// NewMemoryStore creates a MemoryStore keeping IDs for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[int64]time.Time),
	}
}

// Seen implements Store. It never returns an error.
func (s *MemoryStore) Seen(_ context.Context, updateID int64) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expires, ok := s.seen[updateID]; ok && now.Before(expires) {
		return true, nil
	}

	s.seen[updateID] = now.Add(s.ttl)
	s.inserts++
	if s.inserts%sweepEvery == 0 {
		for id, expires := range s.seen {
			if !now.Before(expires) {
				delete(s.seen, id)
			}
		}
	}
	return false, nil
}

// Len returns the number of remembered IDs, expired ones included until the
// next sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
