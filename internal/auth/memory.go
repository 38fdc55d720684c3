package auth

import (
	"context"
	"sync"
	"time"
)

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore keeps users in process memory. Used when no database is
// configured and in tests.
type MemoryUserStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*User
	byEmail map[string]int64
	now     func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[int64]*User),
		byEmail: make(map[string]int64),
		now:     time.Now,
	}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return ErrAlreadyExists
	}
	s.nextID++
	now := s.now().UTC()
	u.ID = s.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	stored := *u
	s.byID[u.ID] = &stored
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryUserStore) FindForLogin(ctx context.Context, email string) (*User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.ID == 0 || u.Name == "" || u.Email == "" || u.PasswordHash == "" {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) UpdateProfile(_ context.Context, id int64, upd ProfileUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Surname != nil {
		u.Surname = *upd.Surname
	}
	u.UpdatedAt = s.now().UTC()
	cp := *u
	return &cp, nil
}

// SetStatus changes an account's status. It exists for administration
// tooling and tests; the HTTP API has no route for it.
func (s *MemoryUserStore) SetStatus(id int64, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}
