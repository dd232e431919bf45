// Package main provides the HTTP server for floor-plan imports.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raphaelgruber/floorplan-import/internal/analysis"
	"github.com/raphaelgruber/floorplan-import/internal/blob"
	"github.com/raphaelgruber/floorplan-import/internal/config"
	"github.com/raphaelgruber/floorplan-import/internal/db"
	"github.com/raphaelgruber/floorplan-import/internal/matcher"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/pdf"
	"github.com/raphaelgruber/floorplan-import/internal/server"
	"github.com/raphaelgruber/floorplan-import/internal/service"
	"github.com/raphaelgruber/floorplan-import/internal/sqlstore"
	"github.com/raphaelgruber/floorplan-import/internal/store"
	"github.com/raphaelgruber/floorplan-import/internal/vocabulary"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("floorplan-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"store", cfg.Store,
		"analyzer", cfg.Analyzer,
		"model", cfg.AnalyzerModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vocab, err := loadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing store")
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if err := st.EnsureFacilities(ctx, vocab.Facilities()); err != nil {
		return fmt.Errorf("seed facilities: %w", err)
	}

	blobs, err := blob.NewDir(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	stats := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	tools := pdf.New(cfg.PdftoppmPath, cfg.PdftotextPath)
	if !tools.Available() {
		logger.Warn("poppler tools not found, thumbnails and text extraction disabled",
			"pdftoppm", cfg.PdftoppmPath, "pdftotext", cfg.PdftotextPath)
	}

	codes := make([]string, 0, len(vocab.Facilities()))
	for _, f := range vocab.Facilities() {
		codes = append(codes, f.Code)
	}
	analyzer, err := analysis.New(ctx, cfg, tools, analysis.Options{FacilityCodes: codes, Metrics: stats})
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}

	deps := service.Deps{
		Store:      st,
		Blobs:      blobs,
		Analyzer:   analyzer,
		Matcher:    matcher.New(st, matcher.Options{MinScore: cfg.MatchMinScore, Limit: cfg.MatchLimit}).WithTimings(stats),
		Vocabulary: vocab,
		Metrics:    stats,
		Pipeline:   pipeline,
		Logger:     logger,
	}
	if tools.Available() {
		deps.Thumbnails = tools
	}
	svc := service.NewImportService(deps, service.Options{
		MaxFiles:      cfg.MaxFiles,
		MaxFileBytes:  cfg.MaxFileBytes,
		SyncThreshold: cfg.SyncThreshold,
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		StallAfter:    cfg.StallAfter,
	})

	if n, err := svc.ResumeStalled(ctx); err != nil {
		logger.Error("failed to resume stalled batches", "error", err)
	} else if n > 0 {
		logger.Info("resumed stalled batches", "count", n)
	}

	janitor, err := service.NewJanitor(svc, cfg.JanitorSchedule, logger)
	if err != nil {
		return err
	}
	janitor.Start()

	srv := server.New(svc, server.Options{
		MaxFiles:     cfg.MaxFiles,
		MaxFileBytes: cfg.MaxFileBytes,
		Stats:        stats,
		Gatherer:     registry,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.ServerPort)
		logger.Info("server ready", "url", fmt.Sprintf("http://localhost%s/api/v1", addr))
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	// Graceful shutdown: stop accepting requests, then let queued analysis finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	janitor.Stop()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("analysis workers did not drain", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func loadVocabulary(path string) (*vocabulary.Vocabulary, error) {
	if path == "" {
		return vocabulary.Default()
	}
	v, err := vocabulary.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", path, err)
	}
	return v, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := sqlstore.OpenSQLite(cfg.SQLitePath, cfg.DBDebug)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil

	case config.StoreMySQL:
		st, err := sqlstore.OpenMySQL(sqlstore.MySQLConfig{
			Host:     cfg.MySQLHost,
			Port:     strconv.Itoa(cfg.MySQLPort),
			Username: cfg.MySQLUser,
			Password: cfg.MySQLPassword,
			Database: cfg.MySQLDatabase,
		}, cfg.DBDebug)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return st, nil

	case config.StoreSurrealDB:
		c, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		if err := c.InitSchema(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return db.NewStore(c), nil
	}
	return nil, fmt.Errorf("unknown store %q (use sqlite, mysql or surrealdb)", cfg.Store)
}
