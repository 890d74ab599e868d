package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository, used by tests and by callers
// that only need resolution for a single process lifetime.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	bySymbol map[string]*CanonicalEntity
	mappings map[[2]string]Mapping
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bySymbol: make(map[string]*CanonicalEntity),
		mappings: make(map[[2]string]Mapping),
	}
}

func (m *MemoryRepository) FindMapping(_ context.Context, source, externalID string) (*Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[[2]string{source, externalID}]
	if !ok {
		return nil, nil
	}
	return &mp, nil
}

func (m *MemoryRepository) FindCanonicalBySymbol(_ context.Context, symbol string) (*CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bySymbol[symbol]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryRepository) CreateCanonical(_ context.Context, symbol, name string) (*CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.bySymbol[symbol]; ok {
		cp := *e
		return &cp, nil
	}
	m.nextID++
	e := &CanonicalEntity{ID: m.nextID, Symbol: symbol, Name: name, CreatedAt: time.Now().UTC()}
	m.bySymbol[symbol] = e
	cp := *e
	return &cp, nil
}

func (m *MemoryRepository) CreateMapping(_ context.Context, mp Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{mp.Source, mp.ExternalID}
	if _, ok := m.mappings[key]; ok {
		return nil
	}
	m.mappings[key] = mp
	return nil
}

// Entities returns a snapshot of all canonical entities keyed by symbol.
func (m *MemoryRepository) Entities() map[string]CanonicalEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CanonicalEntity, len(m.bySymbol))
	for k, v := range m.bySymbol {
		out[k] = *v
	}
	return out
}

// Clone returns a deep copy, letting callers emulate transaction rollback.
func (m *MemoryRepository) Clone() *MemoryRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := NewMemoryRepository()
	c.nextID = m.nextID
	for k, v := range m.bySymbol {
		e := *v
		c.bySymbol[k] = &e
	}
	for k, v := range m.mappings {
		c.mappings[k] = v
	}
	return c
}

// MappingCount returns the number of stored mappings.
func (m *MemoryRepository) MappingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}
