// Package config reads service settings from the environment, after
// loading an optional .env file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest JWT signing secret accepted.
const MinSecretLength = 32

// Config holds everything cmd/api needs to start.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	DatabaseDSN    string
	AllowedOrigins []string

	Redis       Redis
	CachePrefix string

	JWT JWT

	LogLevel  string
	LogPretty bool

	RateBurst  int
	RatePerSec int

	// TrustedProxies are the peers allowed to report the client address
	// through X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

// Redis selects the shared cache. An empty Addr means in-process cache.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// JWT configures token issuance.
type JWT struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string

	// GeneratedSecret is set when no secret was configured and a random
	// one was created. Tokens then do not survive a restart.
	GeneratedSecret bool
}

// Load reads files (default ".env") into the environment without
// overriding variables already set, then builds the Config. Missing files
// are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds the Config from environment variables alone.
func FromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)
	cfg.HTTPAddr = str("HTTP_ADDR", ":8080")
	cfg.GRPCAddr = str("GRPC_ADDR", ":9090")
	cfg.DatabaseDSN = str("DATABASE_DSN", "")
	cfg.AllowedOrigins = list("CORS_ALLOWED_ORIGINS")
	cfg.CachePrefix = str("CACHE_PREFIX", "easycore:")
	cfg.LogLevel = str("LOG_LEVEL", "info")

	cfg.Redis.Addr = str("REDIS_ADDR", "")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = integer("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = boolean("LOG_PRETTY", false); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = integer("HTTP_RATE_BURST", 50); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = integer("HTTP_RATE_PER_SEC", 20); err != nil {
		return Config{}, err
	}

	if cfg.TrustedProxies, err = prefixes("TRUSTED_PROXIES"); err != nil {
		return Config{}, err
	}

	access, err := integer("JWT_ACCESS_TOKEN_EXPIRY", 3600)
	if err != nil {
		return Config{}, err
	}
	refresh, err := integer("JWT_REFRESH_TOKEN_EXPIRY", 604800)
	if err != nil {
		return Config{}, err
	}
	if access <= 0 || refresh <= 0 {
		return Config{}, errors.New("config: token expiry must be positive")
	}
	cfg.JWT.AccessTTL = time.Duration(access) * time.Second
	cfg.JWT.RefreshTTL = time.Duration(refresh) * time.Second
	cfg.JWT.Issuer = str("JWT_ISSUER", "")

	secret := os.Getenv("JWT_SECRET")
	switch {
	case secret == "":
		buf := make([]byte, MinSecretLength)
		if _, err := rand.Read(buf); err != nil {
			return Config{}, fmt.Errorf("config: generate secret: %w", err)
		}
		cfg.JWT.Secret = []byte(hex.EncodeToString(buf))
		cfg.JWT.GeneratedSecret = true
	case len(secret) < MinSecretLength:
		return Config{}, fmt.Errorf("config: JWT_SECRET must be at least %d bytes", MinSecretLength)
	default:
		cfg.JWT.Secret = []byte(secret)
	}
	return cfg, nil
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func integer(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolean(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// prefixes reads a comma separated list of addresses or CIDR ranges.
func prefixes(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range list(key) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("config: %s: %w", key, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
