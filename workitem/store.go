package workitem

import (
	"context"
	"fmt"
	"sync"
)

// Store persists work items. Update must hold a per-item write lock while
// mutate runs and commit the status change and new history entries
// together, or not at all.
type Store interface {
	Create(ctx context.Context, item WorkItem) (WorkItem, error)
	Get(ctx context.Context, id string) (WorkItem, error)
	List(ctx context.Context, filter Filter) ([]WorkItem, error)
	Update(ctx context.Context, id string, mutate func(WorkItem) (WorkItem, error)) (WorkItem, error)
}

// MemoryStore keeps items in process. Used by the memory driver and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*WorkItem
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*WorkItem)}
}

func (s *MemoryStore) Create(ctx context.Context, item WorkItem) (WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return WorkItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return WorkItem{}, fmt.Errorf("workitem: duplicate id %s", item.ID)
	}
	stored := item.Clone()
	s.items[item.ID] = &stored
	s.order = append(s.order, item.ID)
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return WorkItem{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return WorkItem{}, ErrNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkItem, 0, len(s.order))
	for _, id := range s.order {
		item := s.items[id]
		if filter.Match(*item) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(WorkItem) (WorkItem, error)) (WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return WorkItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return WorkItem{}, ErrNotFound
	}
	next, err := mutate(current.Clone())
	if err != nil {
		return WorkItem{}, err
	}
	if next.ID != current.ID {
		return WorkItem{}, fmt.Errorf("workitem: update changed id %s -> %s", current.ID, next.ID)
	}
	if len(next.History) < len(current.History) {
		return WorkItem{}, fmt.Errorf("workitem: update would drop history of %s", id)
	}
	stored := next.Clone()
	s.items[id] = &stored
	return stored.Clone(), nil
}
