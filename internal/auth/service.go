package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"easycore.dev/internal/ratelimit"
)

// Service implements account flows on top of a UserStore and a
// TokenManager.
type Service struct {
	users  UserStore
	tokens *TokenManager
	login  *ratelimit.Limiter
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLoginPolicy overrides the failed-login budget per client IP.
func WithLoginPolicy(p ratelimit.Policy) ServiceOption {
	return func(s *Service) error {
		s.login = s.login.WithPolicy("login", p)
		return nil
	}
}

// NewService wires the account flows. Failed logins are counted through
// limiter under ratelimit.LoginPolicy unless overridden.
func NewService(users UserStore, tokens *TokenManager, limiter *ratelimit.Limiter, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil || limiter == nil {
		return nil, errors.New("auth: service requires users, tokens and limiter")
	}
	svc := &Service{
		users:  users,
		tokens: tokens,
		login:  limiter.WithPolicy("login", ratelimit.LoginPolicy),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token manager used by the service.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// LoginResult is what a successful sign-in returns.
type LoginResult struct {
	User   *User
	Tokens TokenPair
}

// Register creates an active member account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Name == "" || in.Surname == "" || in.Password == "" {
		return nil, invalid("name, surname, email and password are required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, invalid(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	u := &User{
		Name:         in.Name,
		Surname:      in.Surname,
		Email:        email,
		PasswordHash: hash,
		Level:        LevelMember,
		Status:       StatusActive,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// Login checks credentials for a caller at ip and issues a token pair.
// Every attempt reserves one unit of the caller's IP budget before the
// password is checked; once the budget is spent every attempt fails with
// ErrRateLimited, correct credentials included, until the window passes.
// Success forgives earlier failures.
func (s *Service) Login(ctx context.Context, ip, email, password string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return LoginResult{}, invalid("email and password are required")
	}

	key := ratelimit.LoginKey(ip)
	allowed, err := s.login.Attempt(ctx, key, s.login.Policy())
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: login limit: %w", err)
	}
	if !allowed {
		return LoginResult{}, ErrRateLimited
	}

	u, err := s.users.FindForLogin(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		burnPasswordCheck(password)
		return LoginResult{}, ErrUnauthenticated
	case err != nil:
		return LoginResult{}, fmt.Errorf("auth: find user: %w", err)
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil || !u.Active() {
		return LoginResult{}, ErrUnauthenticated
	}

	if err := s.login.Clear(ctx, key); err != nil {
		return LoginResult{}, fmt.Errorf("auth: login limit: %w", err)
	}
	pair, err := s.tokens.CreateTokenPair(ctx, u.Identity())
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: u, Tokens: pair}, nil
}

// LoginRetriesLeft returns how many more logins ip may attempt now.
func (s *Service) LoginRetriesLeft(ctx context.Context, ip string) (int, error) {
	return s.login.RetriesLeftFor(ctx, ratelimit.LoginKey(ip), s.login.Policy())
}

// Logout revokes the access token and, when given and owned by the same
// subject, the refresh token.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.tokens.ValidateToken(ctx, accessToken, TokenAccess)
	if err != nil {
		return err
	}
	if err := s.tokens.BlacklistToken(ctx, accessToken); err != nil {
		return err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	refresh, err := s.tokens.ValidateToken(ctx, refreshToken, TokenRefresh)
	if errors.Is(err, ErrUnauthenticated) {
		return nil
	}
	if err != nil {
		return err
	}
	if refresh.Subject != access.Subject {
		return nil
	}
	return s.tokens.BlacklistToken(ctx, refreshToken)
}

// Refresh rotates refreshToken into a new pair. Claims are rebuilt from the
// current account so email or level changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.ValidateToken(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	u, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, ErrUnauthenticated
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: find user: %w", err)
	}
	if !u.Active() {
		return TokenPair{}, ErrUnauthenticated
	}
	return s.tokens.RotateRefreshToken(ctx, refreshToken, u.Identity())
}

// Profile returns the account of userID.
func (s *Service) Profile(ctx context.Context, userID int64) (*User, error) {
	return s.users.FindByID(ctx, userID)
}

// UpdateProfile changes name and/or surname of userID.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*User, error) {
	if upd.Name == nil && upd.Surname == nil {
		return nil, invalid("nothing to update")
	}
	var err error
	if upd.Name, err = trimmedField(upd.Name); err != nil {
		return nil, err
	}
	if upd.Surname, err = trimmedField(upd.Surname); err != nil {
		return nil, err
	}
	return s.users.UpdateProfile(ctx, userID, upd)
}

func trimmedField(v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil, invalid("name and surname cannot be blank")
	}
	return &t, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("name, surname, email and password are required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", invalid("email is not valid")
	}
	return strings.ToLower(addr.Address), nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
