package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"easycore.dev/internal/auth"
	"easycore.dev/internal/cache"
	"easycore.dev/internal/obs"
	"easycore.dev/internal/todo"
)

const serviceName = "easycore-api"

// ReadyProbe checks the backing stores the API depends on.
type ReadyProbe struct {
	DB    *sql.DB
	Cache cache.Cache
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	accounts *auth.Service
	tokens   *auth.TokenManager
	todos    *todo.Service

	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
	allowedOrigins []string
	trustedProxies []netip.Prefix
}

// Option tunes the HTTP layer.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket applied to every request.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithAllowedOrigins lists CORS origins accepted besides localhost.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = append(a.allowedOrigins, origins...) }
}

// WithTrustedProxies lists the peers whose X-Forwarded-For header is
// believed. Without any, the client IP is always the direct peer.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = append(a.trustedProxies, prefixes...) }
}

// New registers every route on a fresh mux.
func New(rp ReadyProbe, version string, accounts *auth.Service, todos *todo.Service, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		accounts:     accounts,
		tokens:       accounts.Tokens(),
		todos:        todos,
		rateBurst:    50,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /{$}", a.Welcome)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /api/v1/auth/register", a.register)
	a.mux.HandleFunc("POST /api/v1/auth/login", a.login)
	a.mux.HandleFunc("POST /api/v1/auth/refresh", a.refresh)
	a.mux.Handle("POST /api/v1/auth/logout", a.withAuth(http.HandlerFunc(a.logout)))

	a.mux.Handle("GET /api/v1/member/profile", a.withAuth(http.HandlerFunc(a.showProfile)))
	a.mux.Handle("PUT /api/v1/member/profile", a.withAuth(http.HandlerFunc(a.updateProfile)))

	a.mux.Handle("GET /api/v1/todos", a.withAuth(http.HandlerFunc(a.listTodos)))
	a.mux.Handle("POST /api/v1/todos", a.withAuth(http.HandlerFunc(a.createTodo)))
	a.mux.Handle("GET /api/v1/todos/{id}", a.withAuth(http.HandlerFunc(a.showTodo)))
	a.mux.Handle("PUT /api/v1/todos/{id}", a.withAuth(http.HandlerFunc(a.updateTodo)))
	a.mux.Handle("DELETE /api/v1/todos/{id}", a.withAuth(http.HandlerFunc(a.deleteTodo)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Route not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientIP(h, a.trustedProxies...)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Welcome(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, "Welcome to the EasyCore API", map[string]any{
		"name":    serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().
			Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("readiness_failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputProblem(err, auth.ErrInvalidInput))
	case errors.Is(err, todo.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputProblem(err, todo.ErrInvalidInput))
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "Email already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "User not found")
	case errors.Is(err, todo.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Todo not found")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "Invalid or expired token")
	default:
		obs.Logger().Error().
			Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request_failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
