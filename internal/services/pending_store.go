// internal/services/pending_store.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/models"
)

// PendingStore holds issued challenges until they are paid or expire.
type PendingStore interface {
	Put(ctx context.Context, p *models.PendingPayment) error
	// Get returns nil, nil for unknown or expired ids.
	Get(ctx context.Context, generationID string) (*models.PendingPayment, error)
	// Delete reports whether this call removed the record.
	Delete(ctx context.Context, generationID string) (bool, error)
}

// MemoryPendingStore keeps challenges in process memory.
type MemoryPendingStore struct {
	mu      sync.Mutex
	pending map[string]*models.PendingPayment
	now     func() time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		pending: make(map[string]*models.PendingPayment),
		now:     time.Now,
	}
}

func (s *MemoryPendingStore) Put(ctx context.Context, p *models.PendingPayment) error {
	cp := *p
	s.mu.Lock()
	s.pending[p.GenerationID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingStore) Get(ctx context.Context, generationID string) (*models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[generationID]
	if !ok {
		return nil, nil
	}
	if p.Expired(s.now()) {
		delete(s.pending, generationID)
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPendingStore) Delete(ctx context.Context, generationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[generationID]; !ok {
		return false, nil
	}
	delete(s.pending, generationID)
	return true, nil
}

// PurgeExpired drops expired challenges and returns how many were removed.
func (s *MemoryPendingStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunJanitor purges expired challenges every interval until ctx is done.
func (s *MemoryPendingStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PurgeExpired(); n > 0 {
				logrus.WithField("removed", n).Debug("Purged expired payment challenges")
			}
		}
	}
}

// RedisPendingStore shares challenges between instances; expiry is the key TTL.
type RedisPendingStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisPendingStore(client *redis.Client, prefix string) *RedisPendingStore {
	return &RedisPendingStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisPendingStore) key(generationID string) string {
	return fmt.Sprintf("%s:pending:%s", s.prefix, generationID)
}

func (s *RedisPendingStore) Put(ctx context.Context, p *models.PendingPayment) error {
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrChallengeExpired, p.GenerationID)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode pending payment: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.GenerationID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending payment: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Get(ctx context.Context, generationID string) (*models.PendingPayment, error) {
	payload, err := s.client.Get(ctx, s.key(generationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending payment: %w", err)
	}

	var p models.PendingPayment
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode pending payment: %w", err)
	}
	if p.Expired(s.now()) {
		return nil, nil
	}
	return &p, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, generationID string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(generationID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete pending payment: %w", err)
	}
	return n == 1, nil
}
