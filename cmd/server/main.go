package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const errLoggerKey = "err"

func main() {
	// A missing .env is fine, the environment may already be set
	envErr := godotenv.Load(".env")

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "assistantwebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := os.Getenv("ASSISTANT_WEB_UI_CONFIG")
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env", slog.String(errLoggerKey, envErr.Error()))
	}

	transport, closeTransport, err := cfg.Assistant.transport(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating assistant transport: %w", err))
	}
	defer closeTransport()

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "sessions.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer boltDB.Close()

	if _, err := pruneSessions(context.Background(), boltDB, cfg.SessionRetention, time.Now(), logger); err != nil {
		logger.Warn("Failed to prune archived sessions", slog.String(errLoggerKey, err.Error()))
	}

	m, err := handlers.NewMain(transport, boltDB, cfg.turnConfig(), logger)
	if err != nil {
		log.Fatal(err)
	}

	api := handlers.NewAPI(transport, cfg.Instructions, cfg.rateLimit(), logger)
	apiRouter := mux.NewRouter()
	api.Register(apiRouter.PathPrefix("/api/assistants").Subrouter())

	// Serve static files
	staticFS, err := fs.Sub(assistantwebui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	smux := http.NewServeMux()
	smux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	smux.HandleFunc("/", m.HandleHome)
	smux.HandleFunc("/chats", m.HandleChats)
	smux.HandleFunc("/reset", m.HandleReset)
	smux.HandleFunc("/sse", m.HandleSSE)
	smux.Handle("/api/", apiRouter)
	smux.Handle("/metrics", promhttp.Handler())
	smux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           smux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	evictCtx, stopEvict := context.WithCancel(context.Background())
	defer stopEvict()
	go evictIdleSessions(evictCtx, m, cfg.SessionIdle, time.Minute, logger)

	srv.RegisterOnShutdown(func() {
		stopEvict()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String(errLoggerKey, err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}
}
