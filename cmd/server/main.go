package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"livechat/internal/api"
	"livechat/internal/auth"
	"livechat/internal/config"
	"livechat/internal/db"
	"livechat/internal/directory"
	"livechat/internal/docstore"
	"livechat/internal/session"
	"livechat/internal/view"
	"livechat/internal/websocket"
)

func setupLogger() *log.Logger {
	return log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lshortfile)
}

func main() {
	// Parse command line flags
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	flag.Parse()

	logger := setupLogger()
	logger.Println("Starting server...")

	// Load configuration
	cfg := config.Load()

	// Modify database path for load testing
	if *isLoadTest {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0755); err != nil {
			logger.Fatalf("Failed to create loadtest directory: %v", err)
		}

		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		logger.Printf("Using load testing database: %s", loadTestPath)
	}

	logger.Printf("Loaded configuration: %s", cfg)

	database, err := db.NewDB(cfg.CleanDatabasePath())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Println("Database connection established")

	// Change notifications go through Redis when several instances share
	// the database.
	var broker docstore.Broker
	if cfg.RedisAddr != "" {
		redisBroker, err := docstore.NewRedisBroker(cfg.RedisAddr)
		if err != nil {
			logger.Fatalf("Failed to connect to redis at %s: %v", cfg.RedisAddr, err)
		}
		broker = redisBroker
		logger.Printf("Using redis change feed at %s", cfg.RedisAddr)
	} else {
		broker = docstore.NewMemoryBroker()
		logger.Println("Using in-process change feed")
	}
	store := docstore.NewStore(database, broker)
	defer store.Close()

	authService := auth.NewService(store, cfg.JWTSecret)
	sessions := session.NewStore(cfg.SessionSecret, store, strings.HasPrefix(cfg.AllowedOrigin, "https://"))
	dir := directory.New(store, nil)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub(store, dir, websocket.Options{
		TypingIdle:     cfg.TypingIdle,
		SearchDebounce: cfg.SearchDebounce,
	})
	go hub.Run(ctx)
	logger.Println("WebSocket hub initialized")

	renderer, err := view.NewPageRenderer(view.Pages)
	if err != nil {
		logger.Fatalf("Failed to load templates: %v", err)
	}

	handlers := api.NewHandlers(cfg, store, authService, sessions, dir, hub, renderer)
	logger.Println("API handlers initialized")

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           handlers.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Printf("Server starting on %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("Received signal: %v", sig)

	logger.Println("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Graceful shutdown failed: %v", err)
	}
	stop()
	logger.Println("Server stopped")
}
