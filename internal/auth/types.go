package auth

import "time"

// User levels and statuses as stored.
const (
	LevelAdmin  = 1
	LevelMember = 2

	StatusInactive = 0
	StatusActive   = 1
)

// User is a registered account.
type User struct {
	ID           int64
	Name         string
	Surname      string
	Email        string
	PasswordHash string
	Level        int
	Status       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the token subject for u.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Level: u.Level}
}

// Active reports whether u may sign in.
func (u *User) Active() bool {
	return u.Status == StatusActive
}

// RegisterInput is the payload of a sign-up.
type RegisterInput struct {
	Name     string
	Surname  string
	Email    string
	Password string
}

// ProfileUpdate carries the profile fields to change; nil means unchanged.
type ProfileUpdate struct {
	Name    *string
	Surname *string
}
