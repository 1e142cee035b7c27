package box

import (
	"context"
	"sync"
)

// RefCountTable holds the reference count of every object in one account.
// A directory listing an object holds one reference to it; the root
// directory holds one reference to itself.
type RefCountTable interface {
	// Get returns the count for id, 0 if unknown.
	Get(ctx context.Context, id ObjectID) (int64, error)

	// AddReference increments the count for id.
	AddReference(ctx context.Context, id ObjectID) error

	// RemoveReference decrements the count for id and returns the remaining
	// count. Removing a reference from an object at 0 is a no-op returning 0.
	RemoveReference(ctx context.Context, id ObjectID) (int64, error)

	// All returns every non-zero count.
	All(ctx context.Context) (map[ObjectID]int64, error)

	// ReplaceAll discards the table and stores counts instead.
	ReplaceAll(ctx context.Context, counts map[ObjectID]int64) error
}

// MemoryRefCounts is an in-memory RefCountTable. Safe for concurrent use.
type MemoryRefCounts struct {
	mu     sync.Mutex
	counts map[ObjectID]int64
}

func NewMemoryRefCounts() *MemoryRefCounts {
	return &MemoryRefCounts{counts: make(map[ObjectID]int64)}
}

func (m *MemoryRefCounts) Get(_ context.Context, id ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id], nil
}

func (m *MemoryRefCounts) AddReference(_ context.Context, id ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	return nil
}

func (m *MemoryRefCounts) RemoveReference(_ context.Context, id ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.counts[id]
	if n <= 1 {
		delete(m.counts, id)
		return 0, nil
	}
	m.counts[id] = n - 1
	return n - 1, nil
}

func (m *MemoryRefCounts) All(_ context.Context) (map[ObjectID]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ObjectID]int64, len(m.counts))
	for id, n := range m.counts {
		out[id] = n
	}
	return out, nil
}

func (m *MemoryRefCounts) ReplaceAll(_ context.Context, counts map[ObjectID]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[ObjectID]int64, len(counts))
	for id, n := range counts {
		if n > 0 {
			m.counts[id] = n
		}
	}
	return nil
}

var _ RefCountTable = (*MemoryRefCounts)(nil)
