// Package db implements store.Store on SurrealDB over an auto-reconnecting
// WebSocket connection.
package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrades fail when TLS negotiates HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Sign-in levels.
const (
	AuthRoot      = "root"
	AuthNamespace = "namespace"
	AuthDatabase  = "database"
)

// Reconnect tuning.
const (
	reconnectCheckInterval = 5 * time.Second
	backoffInitial         = time.Second
	backoffMax             = 30 * time.Second
	backoffRetries         = 10
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // root (default), namespace or database
}

func (c Config) validate() error {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "url")
	}
	if c.Namespace == "" {
		missing = append(missing, "namespace")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return fmt.Errorf("surrealdb config: missing %s", strings.Join(missing, ", "))
	}
	switch c.AuthLevel {
	case "", AuthRoot, AuthNamespace, AuthDatabase:
		return nil
	}
	return fmt.Errorf("surrealdb config: unknown auth level %q", c.AuthLevel)
}

// endpoint strips the /rpc suffix; gorillaws appends it itself.
func (c Config) endpoint() string {
	return strings.TrimSuffix(strings.TrimRight(c.URL, "/"), "/rpc")
}

func (c Config) auth() surrealdb.Auth {
	a := surrealdb.Auth{Username: c.Username, Password: c.Password}
	switch c.AuthLevel {
	case AuthNamespace:
		a.Namespace = c.Namespace
	case AuthDatabase:
		a.Namespace = c.Namespace
		a.Database = c.Database
	}
	return a
}

// Client is a signed-in connection scoped to one namespace and database.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database.
// Dropped connections are re-established with exponential backoff.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "surrealdb", "namespace", cfg.Namespace, "database", cfg.Database)
	sdkLogger := logger.New(log.Handler())

	codec := surrealcbor.New()
	endpoint := cfg.endpoint()
	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     endpoint,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		reconnectCheckInterval,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = backoffInitial
	retryer.MaxDelay = backoffMax
	retryer.Multiplier = 2.0
	retryer.MaxRetries = backoffRetries
	conn.Retryer = retryer

	log.Info("connecting", "url", endpoint)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, cfg.auth()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("sign in as %s (%s): %w", cfg.Username, cmpOr(cfg.AuthLevel, AuthRoot), err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("connected")
	return &Client{conn: conn, db: db, logger: log}, nil
}

func cmpOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing connection")
	return c.conn.Close(ctx)
}

// Ping runs a trivial query to check the connection.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[int](ctx, c.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// InitSchema defines the import and registry tables. It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	c.logger.Info("schema ready", "tables", len(allTables))
	return nil
}

// Truncate deletes every record but keeps the schema. Tests use it to start
// from an empty database.
func (c *Client) Truncate(ctx context.Context) error {
	var errs []error
	for _, table := range allTables {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE type::table($table)", map[string]any{"table": table}); err != nil {
			errs = append(errs, fmt.Errorf("truncate %s: %w", table, err))
		}
	}
	return errors.Join(errs...)
}
