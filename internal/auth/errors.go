package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	// ErrUnauthenticated covers every credential rejection. Callers never
	// learn which check failed.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrRateLimited     = errors.New("auth: too many attempts")
	ErrSecretTooShort  = errors.New("auth: signing secret must be at least 32 bytes")
)
