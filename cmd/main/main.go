package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the JSON config file")
	flag.Parse()

	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(*configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Drosera has shut down.")
}

// run hosts the site and API servers and returns whenever they are shut down or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	authDB, err := openDB(config.Server.AuthDatabasePath, setupAuthSchema)
	if err != nil {
		return "", fmt.Errorf("failed to initialize auth database: %w", err)
	}
	defer closeDB(logger, "auth", authDB)

	statsDB, err := openDB(config.Server.StatsDatabasePath, setupStatsSchema)
	if err != nil {
		return "", fmt.Errorf("failed to initialize stats database: %w", err)
	}
	defer closeDB(logger, "stats", statsDB)

	server, err := NewServer(cm, logger, authDB, statsDB, actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	siteHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server.SiteHandler()}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.APIHandler()}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting Drosera site server", "address", siteHttpServer.Addr)
		if err := siteHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Site server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping servers for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = siteHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Site server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	return action, nil
}

// openDB opens a SQLite database, creating its directory first, and applies schema.
func openDB(dataSource string, schema func(*sql.DB) error) (*sql.DB, error) {
	if dir := dbDir(dataSource); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := initDB(dataSource)
	if err != nil {
		return nil, err
	}
	if err = schema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// dbDir returns the directory of a file data source, or "" for in-memory databases.
func dbDir(dataSource string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dataSource, "file:"), "?")
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	return filepath.Dir(path)
}

func closeDB(logger *slog.Logger, name string, db *sql.DB) {
	logger.Info("Closing database connection.", "database", name)
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", "database", name, "error", err)
	}
}
