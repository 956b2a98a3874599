package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"crisisguard/internal/adapters/filecache"
	httpadapter "crisisguard/internal/adapters/http"
	"crisisguard/internal/adapters/remote"
	"crisisguard/internal/config"
	"crisisguard/internal/domain"
	"crisisguard/internal/logger"
	"crisisguard/internal/matcher"
	"crisisguard/internal/services/cachemanager"
	"crisisguard/internal/services/guard"
	"crisisguard/internal/services/matchlog"
	"crisisguard/internal/services/search"
)

func main() {
	// the agent has no database; Load's DATABASE_URL warning does not apply
	cfg, _ := config.Load()
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "crisisguard-agent")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	host, _, err := net.SplitHostPort(cfg.AgentListenAddr)
	if ip := net.ParseIP(host); err != nil || ip == nil || !ip.IsLoopback() {
		lg.Fatal("AGENT_LISTEN_ADDR must be a loopback address", zap.String("addr", cfg.AgentListenAddr))
	}
	device := domain.DeviceType(cfg.DeviceType)
	if !device.Valid() {
		lg.Fatal("unknown DEVICE_TYPE", zap.String("device_type", cfg.DeviceType))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := remote.New(cfg.AllowlistURL, cfg.Cache.NetworkTimeout)
	cache := cachemanager.New(ctx, cachemanager.Config{
		NetworkTimeout:     cfg.Cache.NetworkTimeout,
		TTL:                cfg.Cache.TTL,
		RefreshInterval:    cfg.Cache.RefreshInterval,
		UseBundledFallback: cfg.Cache.UseBundledFallback,
	}, client, filecache.New(cfg.CachePath), lg, clockwork.NewRealClock())
	cache.Start(ctx)

	reporter := matchlog.NewReporter(client, lg, matchlog.DefaultBufferSize)
	g := guard.New(cache, matcher.New(matcher.DefaultOptions()), reporter, device)
	agent := httpadapter.NewAgent(g, cache, search.New(cache))

	httpSrv := &http.Server{Addr: cfg.AgentListenAddr, Handler: agent.Routes(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	lg.Info("agent listening", zap.String("addr", cfg.AgentListenAddr), zap.String("cache_path", cfg.CachePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			lg.Error("agent server error", zap.Error(err))
		}
	}
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = httpSrv.Shutdown(shutdownCtx)
	cache.Shutdown()
	reporter.Close()
}
