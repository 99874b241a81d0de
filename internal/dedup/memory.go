package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/potooio/potoo-mailer/internal/types"
)

// MemoryStore keeps records in process memory. Used by tests; it does not
// survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[[2]string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[[2]string]int64)}
}

// CheckAndWrite implements Store.
func (m *MemoryStore) CheckAndWrite(_ context.Context, rec types.DedupRecord, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{rec.PartitionKey, rec.DedupID}
	if exp, ok := m.records[key]; ok && exp >= now.Unix() {
		return true, nil
	}
	m.records[key] = rec.ExpireAt
	return false, nil
}

// Len returns the number of records held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
