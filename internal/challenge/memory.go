package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/andyleap/identity/internal/models"
)

// MemoryStore keeps challenges in a process-local map. Correct for a
// single concurrently running instance; scaled-out deployments use the
// Redis store instead.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]*models.Challenge
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]*models.Challenge),
	}
}

func (m *MemoryStore) Issue(ctx context.Context, record *models.Challenge) (string, error) {
	now := m.now()
	record.Key = newKey(record.UserID, now)
	record.ExpiresAt = now.Add(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.Key] = &clone
	return record.Key, nil
}

func (m *MemoryStore) Consume(ctx context.Context, key string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(m.records, key)

	if !m.now().Before(record.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Run sweeps expired records on a fixed interval until ctx is
// cancelled. Consumption does not depend on the sweep; it only bounds
// memory for ceremonies the client abandoned.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, record := range m.records {
		if !now.Before(record.ExpiresAt) {
			delete(m.records, key)
		}
	}
}
