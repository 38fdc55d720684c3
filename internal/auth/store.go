package auth

import "context"

// UserStore persists accounts. Lookups of absent users return ErrNotFound;
// Create returns ErrAlreadyExists for a taken email.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindForLogin is FindByEmail restricted to rows complete enough to
	// authenticate: id, name, email and password hash all present.
	FindForLogin(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error)
}
