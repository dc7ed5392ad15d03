package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"collabnotes/api/internal/app"
	"collabnotes/api/internal/config"
	"collabnotes/api/internal/docsync"
	"collabnotes/api/internal/search"
	"collabnotes/api/internal/session"
	"collabnotes/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer dataStore.Close()
	log.Printf("Using %s document store", cfg.StoreDriver)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	fallback, _ := dataStore.(store.TextSearcher)
	searchService := search.NewService(meiliClient, fallback)
	defer searchService.Close()

	documents := docsync.NewManager(dataStore, session.NewRegistry(), docsync.Options{
		AutoCreate: cfg.AutoCreate,
		RetryDelay: cfg.StoreRetryDelay,
		Indexer:    searchService,
	})

	service := app.New(cfg, dataStore, documents, searchService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(httpServer.CloseConnections)

	go func() {
		log.Printf("Collabnotes API listening on %s (auth=%s, autoCreate=%t)", cfg.Addr, cfg.AuthMode, cfg.AutoCreate)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := documents.Wait(shutdownCtx); err != nil {
		log.Printf("document actors did not drain: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.DocumentStore, error) {
	switch cfg.StoreDriver {
	case "memory", "":
		return store.NewMemoryStore(), nil
	case "postgres":
		return openSQLStore(ctx, store.DialectPostgres, cfg.DatabaseURL, cfg.MigrationsDir)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return openSQLStore(ctx, store.DialectSQLite, cfg.SQLitePath, cfg.MigrationsDir)
	case "redis":
		return store.NewRedisStore(cfg.RedisURL)
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
		return store.NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openSQLStore(ctx context.Context, dialect store.Dialect, dsn, migrationsDir string) (store.DocumentStore, error) {
	db, err := store.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connection failed: %w", dialect, err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect, migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewSQLStore(db, dialect), nil
}
