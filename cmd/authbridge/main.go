package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/frogbytes-xyz/authbridge/internal/config"
	"github.com/frogbytes-xyz/authbridge/internal/engine"
	"github.com/frogbytes-xyz/authbridge/internal/handlers"
	"github.com/frogbytes-xyz/authbridge/internal/registry"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("authbridge %s\n", version)
		os.Exit(0)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("cannot create state dir", "err", err)
		os.Exit(1)
	}

	eng := engine.New(cfg)
	reg := registry.New()
	eng.SetOnClose(reg.Unregister)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go eng.RunSweeper(sweepCtx)

	mux := http.NewServeMux()
	h := handlers.New(eng, reg, cfg)
	h.Version = version
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           h.Chain(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, closing sessions...")
			sweepCancel()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)

			eng.CloseAll()
			slog.Info("all sessions closed")
		})
	}

	setupSignalHandler(doShutdown)

	slog.Info("authbridge listening", "port", cfg.Port, "sessionTTL", cfg.SessionTTL.String())
	if cfg.Token != "" {
		slog.Info("auth enabled")
	} else {
		slog.Info("auth disabled (set BRIDGE_TOKEN to enable)")
	}

	go runStartupHealthCheck(cfg)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		os.Exit(1)
	}
	doShutdown()
}

func setupSignalHandler(shutdownFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		os.Exit(130)
	}()
}

func runStartupHealthCheck(cfg *config.RuntimeConfig) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", cfg.Port))
	if err != nil {
		slog.Error("startup health check failed", "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
