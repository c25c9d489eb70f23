package persona

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a persona id is unknown to the provider.
var ErrNotFound = errors.New("persona not found")

// Provider returns persona profiles by id. Implementations must be safe for concurrent use
// and must return profiles the caller may not mutate in place.
// Provider 按 ID 返回角色画像，实现需并发安全。
type Provider interface {
	GetPersona(ctx context.Context, id string) (*Profile, error)
}

// MemoryProvider serves profiles from memory.
type MemoryProvider struct {
	mu       sync.RWMutex
	personas map[string]*Profile
	defaults Generation
}

// NewMemoryProvider creates a provider seeded with the given profiles.
func NewMemoryProvider(defaults Generation, profiles ...*Profile) (*MemoryProvider, error) {
	m := &MemoryProvider{
		personas: make(map[string]*Profile, len(profiles)),
		defaults: defaults,
	}
	for _, p := range profiles {
		if err := m.Put(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Put normalizes and stores a profile, replacing any previous one with the same id.
func (m *MemoryProvider) Put(p *Profile) error {
	c := p.Clone()
	if err := c.Normalize(m.defaults); err != nil {
		return err
	}
	m.mu.Lock()
	m.personas[c.ID] = c
	m.mu.Unlock()
	return nil
}

// GetPersona returns a copy of the profile.
func (m *MemoryProvider) GetPersona(ctx context.Context, id string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	p, ok := m.personas[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// List returns all profiles ordered by id.
func (m *MemoryProvider) List() []*Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Profile, 0, len(m.personas))
	for _, p := range m.personas {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryProvider) replace(personas map[string]*Profile) {
	m.mu.Lock()
	m.personas = personas
	m.mu.Unlock()
}

var _ Provider = (*MemoryProvider)(nil)
