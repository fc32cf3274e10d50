package deadletter

import (
	"context"
	"sync"
)

// DefaultMaxSize bounds a MemoryStore created with a non-positive size.
const DefaultMaxSize = 10000

// MemoryStore keeps letters in process memory.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string           // IDs in insertion order
	letters map[string]*Letter // keyed by letter ID
	maxSize int
	closed  bool
}

// NewMemoryStore creates a store holding at most maxSize letters.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MemoryStore{
		letters: make(map[string]*Letter),
		maxSize: maxSize,
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, l *Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if l.ID == "" {
		l.ID = newID()
	}

	if _, exists := m.letters[l.ID]; !exists {
		if len(m.letters) >= m.maxSize {
			return ErrFull
		}
		m.order = append(m.order, l.ID)
	}

	stored := *l
	m.letters[l.ID] = &stored
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Letter, error) {
	return m.list(limit, func(*Letter) bool { return true })
}

// ListByReason implements Store.
func (m *MemoryStore) ListByReason(ctx context.Context, reason Reason, limit int) ([]*Letter, error) {
	return m.list(limit, func(l *Letter) bool { return l.Reason == reason })
}

func (m *MemoryStore) list(limit int, keep func(*Letter) bool) ([]*Letter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Letter, 0)
	for _, id := range m.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		l := m.letters[id]
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Letter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	l, ok := m.letters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.letters[id]; !ok {
		return nil
	}

	delete(m.letters, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.letters), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.letters = nil
	m.order = nil
	return nil
}
