package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	httpadapter "crisisguard/internal/adapters/http"
	"crisisguard/internal/adapters/memory"
	pg "crisisguard/internal/adapters/postgres"
	redisadapter "crisisguard/internal/adapters/redis"
	"crisisguard/internal/adapters/remote"
	"crisisguard/internal/allowlist"
	"crisisguard/internal/config"
	"crisisguard/internal/logger"
	"crisisguard/internal/ports"
	"crisisguard/internal/services/emergency"
	"crisisguard/internal/services/matchlog"
)

func main() {
	cfg, cfgErr := config.Load()
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "crisisguard-server")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	if cfgErr != nil {
		lg.Warn("config", zap.Error(cfgErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store ports.EmergencyStore
		logs  ports.MatchLogRepository
	)
	switch {
	case cfg.DatabaseURL != "":
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			lg.Fatal("db migrate", zap.Error(err))
		}
		store, logs = db, db
	case cfg.Env == "development":
		lg.Warn("DATABASE_URL not set, using in-memory store")
		mem := memory.New(allowlist.Bundled())
		store, logs = mem, mem
	default:
		lg.Fatal("DATABASE_URL is required outside development")
	}

	var limiter ports.RateLimiter = memory.NewCounter(nil)
	if cfg.RedisAddr != "" {
		client := redisadapter.NewClient(redisadapter.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = client.Close() }()
		if err := redisadapter.Ping(ctx, client); err != nil {
			lg.Fatal("redis ping", zap.Error(err))
		}
		limiter = redisadapter.NewCounter(client, "crisisguard:rl:")
	} else {
		lg.Warn("REDIS_ADDR not set, rate limits are per process")
	}

	// verification reads the same public path devices use
	reader := remote.New(cfg.PublicBaseURL, 30*time.Second)
	coord := emergency.New(store, reader, emergency.LogAlerter{Logger: lg}, emergency.Config{
		VerificationInterval: cfg.Verification.Interval,
		VerificationTimeout:  cfg.Verification.Timeout,
		TargetPropagation:    cfg.Verification.TargetPropagation,
		ReadTimeout:          30 * time.Second,
	}, lg, clockwork.NewRealClock())
	if err := coord.Bootstrap(ctx, allowlist.Bundled()); err != nil {
		lg.Fatal("bootstrap allowlist", zap.Error(err))
	}
	if err := coord.Resume(ctx); err != nil {
		lg.Error("resume emergency pushes", zap.Error(err))
	}

	ingestor := matchlog.NewIngestor(logs, limiter, cfg.IPHashSalt, cfg.MatchLogLimit, lg, nil)
	throttle := httpadapter.NewThrottle(limiter, cfg.IPHashSalt, cfg.AllowlistRateLimit, time.Minute, lg)
	if cfg.AdminToken == "" {
		lg.Warn("ADMIN_TOKEN not set, operator API rejects every request")
	}
	srv := httpadapter.New(coord, ingestor, httpadapter.StaticTokenAuth{Token: cfg.AdminToken}, throttle, lg)
	proxies, err := httpadapter.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		lg.Fatal("parse TRUSTED_PROXIES", zap.Error(err))
	}
	srv.TrustProxies(proxies)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	lg.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server error", zap.Error(err))
		}
	}
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = httpSrv.Shutdown(shutdownCtx)
	coord.Shutdown()
}
