package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"easycore.dev/internal/auth"
	"easycore.dev/internal/obs"
)

const authHeader = "Authorization"

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidScheme = errors.New("invalid authorization scheme")
)

// withAuth admits requests carrying a valid, unrevoked access token and
// stores the caller's identity in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			msg := err.Error()
			if errors.Is(err, errMissingToken) {
				msg = "No authentication token provided"
			}
			w.Header().Set("WWW-Authenticate", auth.BearerScheme)
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}

		claims, err := a.tokens.ValidateToken(r.Context(), token, auth.TokenAccess)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				w.Header().Set("WWW-Authenticate", auth.BearerScheme+` error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			obs.Logger().Error().
				Err(err).
				Str("request_id", RequestIDFromContext(r.Context())).
				Msg("token_validation_failed")
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), claims.Identity())
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, auth.BearerScheme) {
		return "", errInvalidScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
