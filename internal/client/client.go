// Package client provides a REST client for the floor-plan import server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/floorplan-import/internal/config"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// Identity headers understood by the server.
const (
	headerTenant = "X-Tenant-ID"
	headerUser   = "X-User-ID"
)

// Client talks to the import server on behalf of one tenant.
type Client struct {
	baseURL    string
	tenantID   string
	userID     string
	httpClient *http.Client
}

// New creates a client from CLI settings.
func New(cfg config.ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		tenantID: cfg.TenantID,
		userID:   cfg.UserID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode    int      `json:"code"`
	Message       string   `json:"message"`
	Detail        string   `json:"error"`
	Problems      []string `json:"problems,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

func (e *APIError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "server error %d: %s", e.StatusCode, e.Message)
	if e.Detail != "" && e.Detail != e.Message {
		sb.WriteString(": " + e.Detail)
	}
	for _, p := range e.Problems {
		sb.WriteString("\n  - " + p)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&sb, " (correlation id %s)", e.CorrelationID)
	}
	return sb.String()
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(headerTenant, c.tenantID)
	if c.userID != "" {
		req.Header.Set(headerUser, c.userID)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a JSON reply into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// File is a document to upload.
type File struct {
	Name    string
	Content []byte
}

// SubmitResult is the reply to a submission.
type SubmitResult struct {
	BatchID    string              `json:"batch_id"`
	TotalFiles int                 `json:"total_files"`
	IsAsync    bool                `json:"is_async"`
	Message    string              `json:"message"`
	Batch      *models.ImportBatch `json:"batch"`
}

// BatchDetail is a batch with its items.
type BatchDetail struct {
	Batch *models.ImportBatch  `json:"batch"`
	Items []*models.ImportItem `json:"items"`
}

// ItemPatch is an operator edit.
type ItemPatch struct {
	EditedData         models.ExtractedData `json:"edited_data,omitempty"`
	SelectedBuildingID *string              `json:"selected_building_id,omitempty"`
	CreateNew          bool                 `json:"create_new,omitempty"`
}

// ItemError is one item that could not be registered.
type ItemError struct {
	ItemID   string `json:"item_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// RegistrationResult is the reply to a register call.
type RegistrationResult struct {
	BatchID      string      `json:"batch_id"`
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Errors       []ItemError `json:"errors"`
}

// Job is an analysis run known to the server.
type Job struct {
	BatchID     string     `json:"batch_id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	Error       string     `json:"error,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is a batch progress notification.
type Event struct {
	Type       string             `json:"type"`
	BatchID    string             `json:"batch_id"`
	Status     models.BatchStatus `json:"status"`
	Counters   models.Counters    `json:"counters"`
	ItemID     string             `json:"item_id,omitempty"`
	ItemStatus models.ItemStatus  `json:"item_status,omitempty"`
	Message    string             `json:"message,omitempty"`
	At         time.Time          `json:"at"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Submit uploads documents as one batch.
func (c *Client) Submit(ctx context.Context, files []File) (*SubmitResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename=%q`, f.Name))
		h.Set("Content-Type", "application/pdf")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create part: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/imports", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var res SubmitResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListImports returns the tenant's batches, newest first.
func (c *Client) ListImports(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	path := "/api/v1/imports"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var batches []models.ImportBatch
	if err := c.getJSON(ctx, path, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetImport returns a batch and its items.
func (c *Client) GetImport(ctx context.Context, batchID string) (*BatchDetail, error) {
	var detail BatchDetail
	if err := c.getJSON(ctx, "/api/v1/imports/"+url.PathEscape(batchID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateItem edits an analyzed item.
func (c *Client) UpdateItem(ctx context.Context, batchID, itemID string, patch ItemPatch) (*models.ImportItem, error) {
	path := fmt.Sprintf("/api/v1/imports/%s/items/%s", url.PathEscape(batchID), url.PathEscape(itemID))
	var item models.ImportItem
	if err := c.sendJSON(ctx, http.MethodPatch, path, patch, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Register commits a confirming batch.
func (c *Client) Register(ctx context.Context, batchID string) (*RegistrationResult, error) {
	var res RegistrationResult
	path := "/api/v1/imports/" + url.PathEscape(batchID) + "/register"
	if err := c.sendJSON(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Jobs lists the server's analysis runs for the tenant.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.getJSON(ctx, "/api/v1/jobs", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.getJSON(ctx, "/api/v1/stats", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Follow streams a batch's events to onEvent until the server ends the
// stream, ctx is cancelled or onEvent returns an error.
func (c *Client) Follow(ctx context.Context, batchID string, onEvent func(Event) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/imports/" + url.PathEscape(batchID) + "/events")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(headerTenant, c.tenantID)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			apiErr := &APIError{}
			if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = resp.Status
			}
			apiErr.StatusCode = resp.StatusCode
			return apiErr
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// unblock ReadJSON when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var e Event
		if err := conn.ReadJSON(&e); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(e); err != nil {
			return err
		}
	}
}

// Terminal reports whether the batch awaits operator action or is finished.
func (e Event) Terminal() bool {
	return e.Type == "batch.status" &&
		(e.Status == models.BatchConfirming || e.Status.IsTerminal())
}
