package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/viking76/homeassistant-generic-wmc/internal/config"
	"github.com/viking76/homeassistant-generic-wmc/internal/logging"
	"github.com/viking76/homeassistant-generic-wmc/internal/server"
	"github.com/viking76/homeassistant-generic-wmc/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser := logging.New(cfg.Logging, "wmc-monitor")
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting WMC monitor")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	store := server.NewMemoryStore(cfg.Server.HistorySize)
	registry := server.NewRemoteRegistry()
	hub := server.NewHub(cfg.Server.AuthToken, registry, logger, cfg.Server.AllowedOrigins...)

	ingest := server.NewHandler(cfg.Server.AuthToken, store, logger, cfg.Server.AllowedOrigins...)
	ingest.SetRegistry(registry)
	ingest.SetHub(hub)

	var sqliteStore *storage.SQLiteStore
	var dbWriter *storage.DBWriter
	var cleaner *storage.RetentionCleaner
	var history server.HistoricalStore

	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open SQLite store")
		}
		history = sqliteStore

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Storage.BufferSize,
			FlushPeriod: cfg.Storage.FlushPeriod,
			ChannelSize: cfg.Storage.BufferSize * 10,
		}, logger)
		ingest.SetDBWriter(dbWriter)

		cleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays:       cfg.Storage.RetentionDays,
			SteadyRetentionDays: cfg.Storage.SteadyRetentionDays,
			CleanupPeriod:       time.Hour,
		}, logger)
		logger.Info().Int("retention_days", cfg.Storage.RetentionDays).Msg("History storage enabled")
	}

	api := server.NewAPIHandler(store, history, registry, version, logger)
	router := server.NewRouter(server.RouterConfig{
		AuthToken: cfg.Server.AuthToken,
		API:       api,
		Hub:       hub,
		Ingest:    ingest,
	})

	httpServer := server.NewHTTPServer(cfg.Server, router)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if cleaner != nil {
		cleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}

	logger.Info().Msg("Server stopped")
}
