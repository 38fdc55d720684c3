package todo

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps todos in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*Todo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]*Todo)}
}

func (s *MemoryStore) List(_ context.Context, userID int64) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []Todo{}
	for _, t := range s.items {
		if t.UserID == userID {
			res = append(res, *t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) Create(_ context.Context, t *Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now().UTC()
	t.ID = s.nextID
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	s.items[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, id int64) (*Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, userID, id int64, p Patch) (*Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}
