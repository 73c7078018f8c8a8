package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inkwell/internal/auth"
	"inkwell/internal/config"
	"inkwell/internal/handler"
	"inkwell/internal/handler/sse"
	"inkwell/internal/middleware"
	"inkwell/internal/remote"
	"inkwell/internal/session"
	"inkwell/internal/syncqueue"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOut := io.Writer(os.Stdout)
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"state_backend", cfg.StateBackend,
		"table_prefix", cfg.TablePrefix,
	)

	// Auth verifier
	var verifier auth.JWTVerifier
	switch cfg.AuthMode {
	case "jwks":
		verifier, err = auth.NewJWTVerifier(cfg.AuthJWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
	case "static":
		verifier = auth.NewStaticVerifier(cfg.StaticAccountID, logger)
	default:
		log.Fatalf("Unknown auth mode: %q", cfg.AuthMode)
	}
	defer verifier.Close()

	// Remote store
	ctx := context.Background()
	pool, err := remote.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := remote.DefaultTableNames(cfg.TablePrefix)
	if err := remote.EnsureSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to ensure remote schema: %v", err)
	}
	logger.Info("database connected", "table_prefix", cfg.TablePrefix)

	// Per-account sessions
	sessions := session.NewManager(session.Config{
		StateBackend:  cfg.StateBackend,
		StateDir:      cfg.StateDir,
		QuietPeriod:   cfg.QuietPeriod,
		ProbeInterval: cfg.ProbeInterval,
		Queue: syncqueue.Options{
			SendTimeout: cfg.SendTimeout,
		},
		Remote: func(accountID string) remote.Store {
			return remote.NewPostgresStore(pool, tables, accountID, logger)
		},
		Logger: logger,
	}, logger)

	// Handlers
	docHandler := handler.NewDocumentHandler(sessions, logger)
	folderHandler := handler.NewFolderHandler(sessions, logger)
	treeHandler := handler.NewTreeHandler(sessions, logger)
	dropHandler := handler.NewDropHandler(sessions, logger)
	syncHandler := handler.NewSyncHandler(sessions, sse.DefaultConfig(), logger)

	logger.Info("services initialized")

	// HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", docHandler.HealthCheck)

	// Folder routes
	mux.HandleFunc("POST /api/folders", folderHandler.CreateFolder)
	mux.HandleFunc("GET /api/folders/{id}", folderHandler.GetFolder)
	mux.HandleFunc("GET /api/folders/{id}/children", folderHandler.ListChildren)
	mux.HandleFunc("PATCH /api/folders/{id}", folderHandler.UpdateFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", folderHandler.DeleteFolder)

	// Document routes
	mux.HandleFunc("POST /api/documents", docHandler.CreateDocument)
	mux.HandleFunc("GET /api/documents/{id}", docHandler.GetDocument)
	mux.HandleFunc("PATCH /api/documents/{id}", docHandler.UpdateDocument)
	mux.HandleFunc("PUT /api/documents/{id}/content", docHandler.UpdateContent)
	mux.HandleFunc("POST /api/documents/{id}/content/flush", docHandler.FlushContent)
	mux.HandleFunc("DELETE /api/documents/{id}", docHandler.DeleteDocument)

	// Tree and drag-and-drop routes
	mux.HandleFunc("GET /api/tree", treeHandler.GetTree)
	mux.HandleFunc("POST /api/drop", dropHandler.Drop)

	// Sync routes
	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("GET /api/sync/events", syncHandler.StreamStatus) // SSE status stream
	mux.HandleFunc("GET /api/sync/pending", syncHandler.ListPending)
	mux.HandleFunc("POST /api/sync/clear-error", syncHandler.ClearError)
	mux.HandleFunc("PUT /api/sync/connectivity", syncHandler.SetConnectivity)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = middleware.Auth(verifier, logger)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: stop accepting requests, then flush pending writes
	// and persist every session's queue before exit.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		sessions.CloseAll(shutdownCtx)
	}()

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
	<-shutdownDone
	logger.Info("server stopped")
}
