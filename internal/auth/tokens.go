package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"easycore.dev/internal/cache"
	"easycore.dev/internal/obs"
	"easycore.dev/internal/ratelimit"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	minSecretLen = 32

	refreshKeyPrefix   = "refresh_token:"
	blacklistKeyPrefix = "token_blacklist:"

	// BearerScheme is the token type reported to clients.
	BearerScheme = "Bearer"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Identity is who a token speaks for.
type Identity struct {
	UserID int64
	Email  string
	Level  int
}

// Claims is the verified content of a token.
type Claims struct {
	Subject   int64
	Email     string
	Level     int
	Type      TokenType
	IssuedAt  int64
	ExpiresAt int64
	// TokenID is shared by the access and refresh token of one pair.
	TokenID string
}

// Identity returns the subject the claims were issued to.
func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Email: c.Email, Level: c.Level}
}

// TokenPair is the result of issuing credentials.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type tokenClaims struct {
	Email string    `json:"email"`
	Level int       `json:"level"`
	Type  TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager issues, validates, revokes and rotates HS256 tokens. Refresh
// tokens are only honoured while their hash is recorded in the cache, which
// makes them revocable. A TokenManager is safe for concurrent use.
type TokenManager struct {
	secret     []byte
	cache      cache.Cache
	limiter    *ratelimit.Limiter
	creation   ratelimit.Policy
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
	log        *zerolog.Logger
	parser     *jwt.Parser
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager) error

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl < time.Second {
			return fmt.Errorf("auth: access ttl %s is below one second", ttl)
		}
		m.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl < time.Second {
			return fmt.Errorf("auth: refresh ttl %s is below one second", ttl)
		}
		m.refreshTTL = ttl
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(m *TokenManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// WithIssuer stamps tokens with iss and requires it on validation.
func WithIssuer(issuer string) TokenOption {
	return func(m *TokenManager) error {
		m.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithTokenCreationPolicy overrides the per-subject issuance budget.
func WithTokenCreationPolicy(p ratelimit.Policy) TokenOption {
	return func(m *TokenManager) error {
		m.creation = p
		return nil
	}
}

// WithTokenLogger sets the logger used for rejection diagnostics.
func WithTokenLogger(l zerolog.Logger) TokenOption {
	return func(m *TokenManager) error {
		m.log = &l
		return nil
	}
}

// NewTokenManager builds a manager signing with secret. Token issuance is
// throttled per subject through limiter; a nil limiter gets one over c.
func NewTokenManager(secret []byte, c cache.Cache, limiter *ratelimit.Limiter, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	if c == nil {
		return nil, errors.New("auth: token manager requires a cache")
	}
	m := &TokenManager{
		secret:     append([]byte(nil), secret...),
		cache:      c,
		creation:   ratelimit.TokenCreationPolicy,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if limiter == nil {
		limiter = ratelimit.New(c, m.creation)
	}
	m.limiter = limiter.WithPolicy("token_creation", m.creation)
	m.creation = m.limiter.Policy()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}
	m.parser = jwt.NewParser(parserOpts...)
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// CreateTokenPair issues an access and a refresh token for id. Both carry
// the same fresh token ID. It fails with ErrInvalidInput when id lacks a
// subject or email and with ErrRateLimited when the subject has exhausted
// its issuance budget.
func (m *TokenManager) CreateTokenPair(ctx context.Context, id Identity) (TokenPair, error) {
	id.Email = strings.TrimSpace(id.Email)
	if id.UserID <= 0 || id.Email == "" {
		return TokenPair{}, ErrInvalidInput
	}
	allowed, err := m.limiter.Attempt(ctx, ratelimit.TokenCreationKey(id.UserID), m.creation)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: token creation limit: %w", err)
	}
	if !allowed {
		return TokenPair{}, ErrRateLimited
	}

	now := m.now().UTC().Truncate(time.Second)
	jti := uuid.NewString()
	access, err := m.sign(id, TokenAccess, jti, now, now.Add(m.accessTTL))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(id, TokenRefresh, jti, now, now.Add(m.refreshTTL))
	if err != nil {
		return TokenPair{}, err
	}
	if err := m.cache.Put(ctx, refreshKey(id.UserID, jti), hashToken(refresh), m.refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("auth: store refresh token: %w", err)
	}
	obs.RecordTokenIssued(string(TokenAccess))
	obs.RecordTokenIssued(string(TokenRefresh))

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.accessTTL / time.Second),
		TokenType:    BearerScheme,
	}, nil
}

// ValidateToken verifies token and returns its claims. Every credential
// problem yields ErrUnauthenticated; other errors mean the cache failed.
// Refresh tokens must also still be recorded in the cache.
func (m *TokenManager) ValidateToken(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	claims, err := m.verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Type != expected {
		return nil, m.reject("type_mismatch")
	}
	if expected != TokenRefresh {
		return claims, nil
	}
	stored, ok, err := m.cache.Get(ctx, refreshKey(claims.Subject, claims.TokenID))
	if err != nil {
		return nil, fmt.Errorf("auth: refresh token lookup: %w", err)
	}
	if !ok {
		return nil, m.reject("refresh_revoked")
	}
	if !hashMatches(stored, token) {
		return nil, m.reject("refresh_mismatch")
	}
	return claims, nil
}

// BlacklistToken revokes token of either type until it would have expired
// anyway. Revoking a refresh token also drops its cache record.
func (m *TokenManager) BlacklistToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	claims, err := m.verify(ctx, token)
	if err != nil {
		return err
	}
	return m.blacklist(ctx, token, claims)
}

// RotateRefreshToken exchanges a refresh token for a new pair issued to
// next. The old token is consumed atomically, so of several concurrent
// rotations of the same token at most one succeeds. A zero next.UserID
// keeps the old subject; a different one is ErrInvalidInput. A subject
// whose issuance budget is spent gets ErrRateLimited and keeps its token.
func (m *TokenManager) RotateRefreshToken(ctx context.Context, oldRefresh string, next Identity) (TokenPair, error) {
	oldRefresh = strings.TrimSpace(oldRefresh)
	claims, err := m.ValidateToken(ctx, oldRefresh, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if next.UserID == 0 {
		next.UserID = claims.Subject
	}
	if next.UserID != claims.Subject {
		return TokenPair{}, ErrInvalidInput
	}
	over, err := m.limiter.TooManyAttemptsFor(ctx, ratelimit.TokenCreationKey(claims.Subject), m.creation)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: token creation limit: %w", err)
	}
	if over {
		obs.RecordRateLimited("token_creation")
		return TokenPair{}, ErrRateLimited
	}

	stored, ok, err := m.cache.Take(ctx, refreshKey(claims.Subject, claims.TokenID))
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: consume refresh token: %w", err)
	}
	if !ok || !hashMatches(stored, oldRefresh) {
		return TokenPair{}, m.reject("refresh_reused")
	}
	if err := m.blacklist(ctx, oldRefresh, claims); err != nil {
		return TokenPair{}, err
	}
	return m.CreateTokenPair(ctx, next)
}

func (m *TokenManager) sign(id Identity, typ TokenType, jti string, iat, exp time.Time) (string, error) {
	claims := tokenClaims{
		Email: id.Email,
		Level: id.Level,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", typ, err)
	}
	return signed, nil
}

// verify checks signature, timestamps, claim shape and the blacklist. token
// must already be trimmed.
func (m *TokenManager) verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, m.reject("empty")
	}
	var tc tokenClaims
	parsed, err := m.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, m.reject("expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, m.reject("signature")
	case err != nil || !parsed.Valid:
		return nil, m.reject("malformed")
	}

	sub, err := strconv.ParseInt(tc.Subject, 10, 64)
	if err != nil || sub <= 0 || tc.ID == "" || tc.IssuedAt == nil {
		return nil, m.reject("malformed")
	}
	if tc.Type != TokenAccess && tc.Type != TokenRefresh {
		return nil, m.reject("malformed")
	}
	claims := &Claims{
		Subject:   sub,
		Email:     tc.Email,
		Level:     tc.Level,
		Type:      tc.Type,
		IssuedAt:  tc.IssuedAt.Unix(),
		ExpiresAt: tc.ExpiresAt.Unix(),
		TokenID:   tc.ID,
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		return nil, m.reject("malformed")
	}

	_, listed, err := m.cache.Get(ctx, blacklistKey(token))
	if err != nil {
		return nil, fmt.Errorf("auth: blacklist lookup: %w", err)
	}
	if listed {
		return nil, m.reject("blacklisted")
	}
	return claims, nil
}

func (m *TokenManager) blacklist(ctx context.Context, token string, claims *Claims) error {
	// never outlive the token itself
	ttl := time.Unix(claims.ExpiresAt, 0).Sub(m.now())
	if ttl > 0 {
		if err := m.cache.Put(ctx, blacklistKey(token), "1", ttl); err != nil {
			return fmt.Errorf("auth: blacklist token: %w", err)
		}
	}
	if claims.Type == TokenRefresh {
		if err := m.cache.Delete(ctx, refreshKey(claims.Subject, claims.TokenID)); err != nil {
			return fmt.Errorf("auth: revoke refresh token: %w", err)
		}
	}
	return nil
}

func (m *TokenManager) reject(reason string) error {
	obs.RecordTokenRejected(reason)
	l := m.log
	if l == nil {
		l = obs.Logger()
	}
	l.Debug().Str("reason", reason).Msg("token rejected")
	return ErrUnauthenticated
}

func refreshKey(subject int64, tokenID string) string {
	return refreshKeyPrefix + strconv.FormatInt(subject, 10) + ":" + tokenID
}

func blacklistKey(token string) string {
	return blacklistKeyPrefix + token
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func hashMatches(storedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(token))) == 1
}
