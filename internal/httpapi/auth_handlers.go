package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"easycore.dev/internal/audit"
	"easycore.dev/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	Level   int    `json:"level"`
}

type loginResponse struct {
	User   userResponse   `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:      u.ID,
		Name:    u.Name,
		Surname: u.Surname,
		Email:   u.Email,
		Level:   u.Level,
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Surname:  req.Surname,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{
		"user_id": u.ID,
		"email":   u.Email,
	})
	writeSuccess(w, r, http.StatusCreated, "User registered successfully", toUserResponse(u))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ip := clientIP(r)
	res, err := a.accounts.Login(r.Context(), ip, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		_ = audit.LogEvent(r.Context(), audit.EventLoginThrottled, map[string]any{"ip": ip})
		writeError(w, r, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
		return
	case errors.Is(err, auth.ErrUnauthenticated):
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
			"ip":    ip,
			"email": strings.ToLower(strings.TrimSpace(req.Email)),
		})
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLoginSucceeded, map[string]any{
		"ip":      ip,
		"user_id": res.User.ID,
	})
	writeSuccess(w, r, http.StatusOK, "Login successful", loginResponse{
		User:   toUserResponse(res.User),
		Tokens: res.Tokens,
	})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	pair, err := a.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, r, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventRefresh, nil)
	writeSuccess(w, r, http.StatusOK, "Token refreshed successfully", pair)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, _ := auth.TokenFromContext(r.Context())
	if err := a.accounts.Logout(r.Context(), token, req.RefreshToken); err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{
		"refresh_revoked": strings.TrimSpace(req.RefreshToken) != "",
	})
	writeSuccess(w, r, http.StatusOK, "Successfully logged out", nil)
}
