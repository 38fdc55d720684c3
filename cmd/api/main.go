package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"

	"easycore.dev/internal/auth"
	"easycore.dev/internal/cache"
	"easycore.dev/internal/config"
	"easycore.dev/internal/httpapi"
	"easycore.dev/internal/obs"
	"easycore.dev/internal/ratelimit"
	"easycore.dev/internal/todo"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal().Err(err).Msg("easycore-api stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := obs.ConfigureLogger(cfg.LogLevel, cfg.LogPretty); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	if cfg.JWT.GeneratedSecret {
		log.Warn().Msg("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db       *sql.DB
		users    auth.UserStore = auth.NewMemoryUserStore()
		todoRepo todo.Store     = todo.NewMemoryStore()
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		users = auth.NewPGUserStore(db)
		todoRepo = todo.NewPGStore(db)
	} else {
		log.Warn().Msg("DATABASE_DSN not set; accounts and todos are kept in memory")
	}

	var store cache.Cache
	if cfg.Redis.Addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.DialRedis(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.CachePrefix)
		cancel()
		if err != nil {
			return err
		}
		defer rc.Close()
		store = rc
	} else {
		mc := cache.NewMemory()
		go mc.Start()
		defer mc.Close()
		store = mc
	}

	limiter := ratelimit.New(store, ratelimit.DefaultPolicy)
	tokenOpts := []auth.TokenOption{
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
		auth.WithTokenLogger(*log),
	}
	if cfg.JWT.Issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.JWT.Issuer))
	}
	tokens, err := auth.NewTokenManager(cfg.JWT.Secret, store, limiter, tokenOpts...)
	if err != nil {
		return err
	}
	accounts, err := auth.NewService(users, tokens, limiter)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: db, Cache: store}
	api := httpapi.New(probe, version, accounts, todo.NewService(todoRepo),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins...),
		httpapi.WithTrustedProxies(cfg.TrustedProxies...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Run(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc_listening")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting_down")
	case err = <-errc:
		log.Error().Err(err).Msg("server_failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	log.Info().Msg("stopped")
	return err
}
