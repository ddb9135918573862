package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/app"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	result, err := app.Build(runCtx, cfg)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	log.Printf("cache tier: %s", tierName(cfg.RedisURL, "redis"))
	log.Printf("durable tier: %s", tierName(cfg.DatabaseURL, "postgres"))
	log.Printf("transform mode: %s", cfg.TransformMode)
	if cfg.CacheTTL > 0 {
		log.Printf("stateless sessions enabled: record ttl %s", cfg.CacheTTL)
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	if err := result.Cleanup(); err != nil {
		log.Printf("cleanup error: %v", err)
	}
	log.Printf("shutdown complete")
}

func tierName(url, backed string) string {
	if strings.TrimSpace(url) != "" {
		return backed
	}
	return "in-memory"
}
