// Package todo manages per-user todo items.
package todo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("todo: not found")
	ErrInvalidInput = errors.New("todo: invalid input")
)

const maxTitleLength = 255

// Todo is one item on a user's list.
type Todo struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Draft is the input for a new todo.
type Draft struct {
	Title       string
	Description string
	Completed   bool
}

// Patch holds the fields to change; nil means unchanged.
type Patch struct {
	Title       *string
	Description *string
	Completed   *bool
}

// Store persists todos. Every call is scoped to the owning user; items of
// other users behave as absent.
type Store interface {
	List(ctx context.Context, userID int64) ([]Todo, error)
	Create(ctx context.Context, t *Todo) error
	Get(ctx context.Context, userID, id int64) (*Todo, error)
	Update(ctx context.Context, userID, id int64, p Patch) (*Todo, error)
	Delete(ctx context.Context, userID, id int64) error
}

// Service validates input before it reaches the Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, userID int64) ([]Todo, error) {
	return s.store.List(ctx, userID)
}

func (s *Service) Create(ctx context.Context, userID int64, d Draft) (*Todo, error) {
	title, err := cleanTitle(d.Title)
	if err != nil {
		return nil, err
	}
	t := &Todo{
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(d.Description),
		Completed:   d.Completed,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("todo: create: %w", err)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*Todo, error) {
	return s.store.Get(ctx, userID, id)
}

func (s *Service) Update(ctx context.Context, userID, id int64, p Patch) (*Todo, error) {
	if p.Title != nil {
		title, err := cleanTitle(*p.Title)
		if err != nil {
			return nil, err
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		p.Description = &desc
	}
	return s.store.Update(ctx, userID, id, p)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.store.Delete(ctx, userID, id)
}

func cleanTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(title) > maxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLength)
	}
	return title, nil
}
