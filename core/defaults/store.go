// Package defaults keeps the DefaultControl values that apply when no event
// is active. The values are persisted so they survive a restart.
package defaults

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/dercontrol/core/model"
)

// Store loads and saves the DefaultControl record.
type Store interface {
	Load(ctx context.Context) (model.DefaultControl, bool, error)
	Save(ctx context.Context, dc model.DefaultControl) error
	Close() error
}

// MemoryStore keeps the record in memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	dc  model.DefaultControl
	set bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (model.DefaultControl, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dc := s.dc
	dc.Values = dc.Values.Clone()
	return dc, s.set, nil
}

func (s *MemoryStore) Save(_ context.Context, dc model.DefaultControl) error {
	s.mu.Lock()
	dc.Values = dc.Values.Clone()
	s.dc, s.set = dc, true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Cache holds the current DefaultControl in memory and writes every update
// through to a Store.
type Cache struct {
	mu    sync.RWMutex
	store Store
	dc    model.DefaultControl
}

// NewCache loads the persisted record, if any.
func NewCache(ctx context.Context, store Store) (*Cache, error) {
	c := &Cache{store: store}
	dc, ok, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		c.dc = dc
	}
	return c, nil
}

// Get returns the cached record.
func (c *Cache) Get() model.DefaultControl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dc
}

// Value returns the default value of f.
func (c *Cache) Value(f model.ControlField) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.dc.Values[f]
	return v, ok
}

// Update makes dc current and persists it. dc stays in effect when
// persisting fails; the error only means it will not survive a restart.
func (c *Cache) Update(ctx context.Context, dc model.DefaultControl) error {
	dc.Values = dc.Values.Clone()
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	if err := c.store.Save(ctx, dc); err != nil {
		return fmt.Errorf("save default control: %w", err)
	}
	return nil
}
