package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"easycore.dev/internal/cache"
	"easycore.dev/internal/ratelimit"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingCache remembers the TTL of every Put.
type recordingCache struct {
	cache.Cache
	mu   sync.Mutex
	puts map[string]time.Duration
}

func newRecordingCache() *recordingCache {
	return &recordingCache{Cache: cache.NewMemory(), puts: make(map[string]time.Duration)}
}

func (r *recordingCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	r.puts[key] = ttl
	r.mu.Unlock()
	return r.Cache.Put(ctx, key, value, ttl)
}

func (r *recordingCache) ttl(key string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.puts[key]
	return d, ok
}

var errCacheDown = errors.New("cache down")

type failingGetCache struct{ cache.Cache }

func (failingGetCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errCacheDown
}

func newTestManager(t *testing.T, c cache.Cache, opts ...TokenOption) (*TokenManager, *fakeClock) {
	t.Helper()
	if c == nil {
		c = cache.NewMemory()
	}
	clock := newFakeClock()
	opts = append([]TokenOption{WithTokenClock(clock.Now)}, opts...)
	m, err := NewTokenManager(testSecret, c, nil, opts...)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m, clock
}

var alice = Identity{UserID: 42, Email: "alice@example.com", Level: LevelMember}

func TestNewTokenManagerRejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager([]byte("short"), cache.NewMemory(), nil)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
	if _, err := NewTokenManager(testSecret, nil, nil); err == nil {
		t.Fatal("expected error for missing cache")
	}
}

func TestCreateTokenPairRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 3600 {
		t.Fatalf("unexpected pair metadata: %+v", pair)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if parts := strings.Split(pair.AccessToken, "."); len(parts) != 3 {
		t.Fatalf("expected three-part token, got %d parts", len(parts))
	}

	access, err := m.ValidateToken(ctx, pair.AccessToken, TokenAccess)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if access.Identity() != alice {
		t.Fatalf("identity mismatch: %+v", access.Identity())
	}
	if access.Type != TokenAccess || access.TokenID == "" {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	if access.ExpiresAt-access.IssuedAt != 3600 {
		t.Fatalf("unexpected access lifetime: %d", access.ExpiresAt-access.IssuedAt)
	}

	refresh, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if refresh.TokenID != access.TokenID {
		t.Fatalf("pair must share token id: %s vs %s", refresh.TokenID, access.TokenID)
	}
	if refresh.ExpiresAt-refresh.IssuedAt != 604800 {
		t.Fatalf("unexpected refresh lifetime: %d", refresh.ExpiresAt-refresh.IssuedAt)
	}
}

func TestCreateTokenPairRequiresSubjectAndEmail(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for _, id := range []Identity{
		{Email: "a@example.com"},
		{UserID: 1},
		{UserID: 1, Email: "   "},
		{UserID: -3, Email: "a@example.com"},
	} {
		if _, err := m.CreateTokenPair(ctx, id); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("identity %+v: expected ErrInvalidInput, got %v", id, err)
		}
	}
}

func TestCreateTokenPairRateLimitedPerSubject(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for i := 0; i < 10; i++ {
		if _, err := m.CreateTokenPair(ctx, alice); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	if _, err := m.CreateTokenPair(ctx, alice); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	bob := Identity{UserID: 7, Email: "bob@example.com"}
	if _, err := m.CreateTokenPair(ctx, bob); err != nil {
		t.Fatalf("other subject must not be throttled: %v", err)
	}
}

func TestCreationPolicyOverride(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil, WithTokenCreationPolicy(ratelimit.Policy{MaxAttempts: 1, Decay: time.Minute}))
	if _, err := m.CreateTokenPair(ctx, alice); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if _, err := m.CreateTokenPair(ctx, alice); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	clock.Advance(time.Hour + time.Second)
	if _, err := m.ValidateToken(ctx, pair.AccessToken, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired access token rejected, got %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); err != nil {
		t.Fatalf("refresh token should outlive access token: %v", err)
	}
}

func TestValidateTokenTypeMismatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.AccessToken, TokenRefresh); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestValidateTokenRejectsForgeries(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	other, err := NewTokenManager([]byte(strings.Repeat("x", 32)), cache.NewMemory(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	foreign, err := other.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "42", "email": alice.Email, "type": "access", "jti": "x",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"foreign secret": foreign.AccessToken,
		"alg none":       unsigned,
		"tampered":       tampered,
	}
	for name, tok := range cases {
		if _, err := m.ValidateToken(ctx, tok, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestIssuerMustMatch(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemory()
	a, _ := newTestManager(t, shared, WithIssuer("easycore-a"))
	b, _ := newTestManager(t, shared, WithIssuer("easycore-b"))

	pair, err := a.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	if _, err := a.ValidateToken(ctx, pair.AccessToken, TokenAccess); err != nil {
		t.Fatalf("own issuer rejected: %v", err)
	}
	if _, err := b.ValidateToken(ctx, pair.AccessToken, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("foreign issuer accepted: %v", err)
	}
}

func TestBlacklistAccessToken(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	if err := m.BlacklistToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.AccessToken, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("blacklisted token accepted: %v", err)
	}
	// the refresh half of the pair is unaffected
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}
}

func TestBlacklistIgnoresSurroundingWhitespace(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	padded := pair.AccessToken + "\n"
	if err := m.BlacklistToken(ctx, padded); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	for _, tok := range []string{padded, pair.AccessToken, " " + pair.AccessToken} {
		if _, err := m.ValidateToken(ctx, tok, TokenAccess); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("blacklisted token %q accepted: %v", tok, err)
		}
	}

	// padded refresh tokens still match their stored hash and are revocable
	if _, err := m.ValidateToken(ctx, "\t"+pair.RefreshToken+" ", TokenRefresh); err != nil {
		t.Fatalf("padded refresh token rejected: %v", err)
	}
	if err := m.BlacklistToken(ctx, pair.RefreshToken+" "); err != nil {
		t.Fatalf("BlacklistToken refresh: %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked refresh token accepted: %v", err)
	}
}

func TestBlacklistRefreshTokenForSubject42(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	claims, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if claims.Subject != 42 {
		t.Fatalf("unexpected subject %d", claims.Subject)
	}
	if err := m.BlacklistToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked refresh token accepted: %v", err)
	}
	if _, ok, _ := m.cache.Get(ctx, refreshKey(42, claims.TokenID)); ok {
		t.Fatal("refresh record should be deleted")
	}
	if _, err := m.RotateRefreshToken(ctx, pair.RefreshToken, alice); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked refresh token rotated: %v", err)
	}
}

func TestBlacklistTTLNeverOutlivesToken(t *testing.T) {
	ctx := context.Background()
	rc := newRecordingCache()
	m, clock := newTestManager(t, rc)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	claims, err := m.ValidateToken(ctx, pair.AccessToken, TokenAccess)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	clock.Set(time.Unix(claims.ExpiresAt, 0).Add(-2 * time.Second))
	if err := m.BlacklistToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("BlacklistToken: %v", err)
	}
	ttl, ok := rc.ttl(blacklistKey(pair.AccessToken))
	if !ok {
		t.Fatal("expected blacklist entry")
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("blacklist ttl %s exceeds remaining lifetime", ttl)
	}
}

func TestBlacklistExpiredTokenWritesNothing(t *testing.T) {
	ctx := context.Background()
	rc := newRecordingCache()
	m, clock := newTestManager(t, rc)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if err := m.BlacklistToken(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	if _, ok := rc.ttl(blacklistKey(pair.AccessToken)); ok {
		t.Fatal("expired token must not be written to the blacklist")
	}
}

func TestRotateRefreshTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	first, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	second, err := m.RotateRefreshToken(ctx, first.RefreshToken, alice)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}
	if _, err := m.RotateRefreshToken(ctx, first.RefreshToken, alice); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("second rotation should fail, got %v", err)
	}
	if _, err := m.ValidateToken(ctx, second.RefreshToken, TokenRefresh); err != nil {
		t.Fatalf("new refresh token invalid: %v", err)
	}
	if _, err := m.ValidateToken(ctx, second.AccessToken, TokenAccess); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}
}

func TestRotateRefreshTokenKeepsTokenWhenRateLimited(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil, WithTokenCreationPolicy(ratelimit.Policy{MaxAttempts: 1, Decay: time.Minute}))
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	if _, err := m.RotateRefreshToken(ctx, pair.RefreshToken+"\n", alice); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); err != nil {
		t.Fatalf("throttled rotation must not consume the token: %v", err)
	}
}

func TestRotateRefreshTokenConcurrently(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RotateRefreshToken(ctx, pair.RefreshToken, Identity{})
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrUnauthenticated):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", wins.Load())
	}
}

func TestRotateRefreshTokenSubjectMismatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)
	pair, err := m.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	_, err = m.RotateRefreshToken(ctx, pair.RefreshToken, Identity{UserID: 99, Email: "eve@example.com"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := m.ValidateToken(ctx, pair.RefreshToken, TokenRefresh); err != nil {
		t.Fatalf("refused rotation must not consume the token: %v", err)
	}
}

func TestCacheFailureIsNotUnauthenticated(t *testing.T) {
	ctx := context.Background()
	healthy, _ := newTestManager(t, nil)
	pair, err := healthy.CreateTokenPair(ctx, alice)
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	broken, err := NewTokenManager(testSecret, failingGetCache{cache.NewMemory()}, nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	_, err = broken.ValidateToken(ctx, pair.AccessToken, TokenAccess)
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !errors.Is(err, errCacheDown) {
		t.Fatalf("expected wrapped cache error, got %v", err)
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("empty context should have no identity")
	}
	ctx = ContextWithIdentity(ctx, alice)
	ctx = ContextWithToken(ctx, "tok")
	id, ok := IdentityFromContext(ctx)
	if !ok || id != alice {
		t.Fatalf("unexpected identity: %+v ok=%v", id, ok)
	}
	if uid, ok := UserIDFromContext(ctx); !ok || uid != 42 {
		t.Fatalf("unexpected user id: %d", uid)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
