// Package server exposes the import pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/service"
)

// Importer is the part of service.ImportService the HTTP surface uses.
type Importer interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	ListBatches(ctx context.Context, tenantID string, limit int) ([]*models.ImportBatch, error)
	GetBatch(ctx context.Context, tenantID, batchID string) (*service.BatchDetail, error)
	UpdateItem(ctx context.Context, tenantID, batchID, itemID string, upd service.ItemUpdate) (*models.ImportItem, error)
	Register(ctx context.Context, tenantID, batchID string) (*service.RegistrationResult, error)
	Subscribe(ctx context.Context, tenantID, batchID string) (<-chan service.Event, func(), error)
	Jobs(tenantID string) []service.JobInfo
}

// Options configure the HTTP surface. Stats and Gatherer are optional.
type Options struct {
	// MaxFiles bounds the parts of one upload; more are rejected before any
	// part is read.
	MaxFiles int
	// MaxFileBytes bounds each uploaded file; larger parts are rejected
	// without being read completely.
	MaxFileBytes int64
	Stats        *metrics.Collector
	Gatherer     prometheus.Gatherer
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	echo     *echo.Echo
	svc      Importer
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	http *http.Server
}

// New builds the router.
func New(svc Importer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = service.DefaultMaxFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = service.DefaultMaxFileBytes
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Minute
	}
	if opts.WriteTimeout <= 0 {
		// sync submissions answer after analysis
		opts.WriteTimeout = 10 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		svc:    svc,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // tenant headers gate access
			},
		},
	}
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(LoggingMiddleware(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		})))
	}

	api := e.Group("/api/v1")

	tenant := api.Group("", TenantMiddleware)
	tenant.GET("/stats", s.handleStats)
	tenant.POST("/imports", s.handleSubmit, middleware.BodyLimit(uploadLimit(opts.MaxFiles, opts.MaxFileBytes)))
	tenant.GET("/imports", s.handleListBatches)
	tenant.GET("/imports/:id", s.handleGetBatch)
	tenant.PATCH("/imports/:id/items/:itemId", s.handleUpdateItem)
	tenant.POST("/imports/:id/register", s.handleRegister)
	tenant.GET("/imports/:id/events", s.handleEvents)
	tenant.GET("/jobs", s.handleJobs)

	return s
}

// Multipart framing allowance on top of the file bytes.
const (
	partOverhead = 4 << 10
	formOverhead = 64 << 10
)

// uploadLimit is the largest submission body worth reading, in the size
// notation BodyLimit expects.
func uploadLimit(maxFiles int, maxFileBytes int64) string {
	limit := int64(maxFiles)*(maxFileBytes+partOverhead) + formOverhead
	return fmt.Sprintf("%dK", (limit+1023)/1024)
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	hs := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.http = hs
	s.mu.Unlock()

	s.logger.Info("starting http server", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.http
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}
