// Command smoke runs the account and todo flow against a live server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"easycore.dev/internal/obs"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type smoke struct {
	base   string
	client *http.Client
}

func main() {
	log := obs.Logger()
	base := envOr("EASYCORE_BASE_URL", "http://localhost:8080")
	grpcAddr := envOr("EASYCORE_GRPC_ADDR", "localhost:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("dial grpc")
	}
	defer conn.Close()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatal().Err(err).Msg("grpc health")
	}
	if hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatal().Str("status", hc.GetStatus().String()).Msg("server not serving")
	}

	s := smoke{base: base, client: &http.Client{Timeout: 5 * time.Second}}
	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	password := uuid.NewString()

	s.must(ctx, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"name": "Smoke", "surname": "Test", "email": email, "password": password,
	}, http.StatusCreated, nil)

	var login struct {
		Tokens tokens `json:"tokens"`
	}
	s.must(ctx, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": email, "password": password,
	}, http.StatusOK, &login)

	var created struct {
		ID int64 `json:"id"`
	}
	s.must(ctx, http.MethodPost, "/api/v1/todos", login.Tokens.AccessToken, map[string]any{
		"title": "smoke",
	}, http.StatusCreated, &created)
	s.must(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/todos/%d", created.ID), login.Tokens.AccessToken, nil, http.StatusOK, nil)

	var rotated tokens
	s.must(ctx, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refreshToken": login.Tokens.RefreshToken,
	}, http.StatusOK, &rotated)
	s.must(ctx, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refreshToken": login.Tokens.RefreshToken,
	}, http.StatusUnauthorized, nil)

	s.must(ctx, http.MethodPost, "/api/v1/auth/logout", rotated.AccessToken, map[string]any{
		"refreshToken": rotated.RefreshToken,
	}, http.StatusOK, nil)
	s.must(ctx, http.MethodGet, "/api/v1/member/profile", rotated.AccessToken, nil, http.StatusUnauthorized, nil)

	log.Info().Str("email", email).Msg("smoke test passed")
}

func (s smoke) must(ctx context.Context, method, path, token string, body any, want int, out any) {
	log := obs.Logger()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			log.Fatal().Err(err).Msg("encode body")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, &payload)
	if err != nil {
		log.Fatal().Err(err).Msg("build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("request failed")
	}
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode != want {
		log.Fatal().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Int("want", want).
			Str("message", env.Message).
			Msg("unexpected status")
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("decode data")
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
