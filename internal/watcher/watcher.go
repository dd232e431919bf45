// Package watcher submits PDFs dropped into a hot folder.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/raphaelgruber/floorplan-import/internal/client"
)

// Defaults for Options.
const (
	DefaultSettle       = 2 * time.Second
	DefaultMaxFiles     = 50
	DefaultMaxFileBytes = 20 << 20
)

// ErrNotPDF is reported for a file without the PDF signature.
var ErrNotPDF = errors.New("not a PDF file")

var pdfSignature = []byte("%PDF-")

// SubmitFunc uploads one batch of files.
type SubmitFunc func(ctx context.Context, files []client.File) (*client.SubmitResult, error)

// Options configures a Watcher.
type Options struct {
	// Settle is how long a file must stay unchanged before it is submitted.
	Settle time.Duration
	// MaxFiles caps the documents sent in one batch.
	MaxFiles int
	// MaxFileBytes is the largest file submitted; bigger ones go to FailedDir
	// without being sent.
	MaxFileBytes int64
	// DoneDir receives submitted files, one subdirectory per batch.
	DoneDir string
	// FailedDir receives files the server rejected and files refused locally.
	FailedDir string
	// OnBatch is called after every submission attempt that reached the
	// server, and with a nil result for each file refused before sending.
	OnBatch func(res *client.SubmitResult, paths []string, err error)
	Logger  *slog.Logger
}

// Watcher turns new PDFs in a directory into import batches.
type Watcher struct {
	dir    string
	submit SubmitFunc
	opts   Options
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// New watches dir. Submitted files are moved out of dir so they are not
// picked up again.
func New(dir string, submit SubmitFunc, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.DoneDir == "" {
		opts.DoneDir = filepath.Join(dir, "processed")
	}
	if opts.FailedDir == "" {
		opts.FailedDir = filepath.Join(dir, "failed")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	for _, d := range []string{opts.DoneDir, opts.FailedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		submit:  submit,
		opts:    opts,
		logger:  opts.Logger.With("component", "watcher", "dir", dir),
		fsw:     fsw,
		pending: make(map[string]time.Time),
	}, nil
}

// Run processes events until ctx ends. PDFs already in the folder are
// submitted on the first pass.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.scan(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.opts.Settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-ticker.C:
			w.flush(ctx, time.Now())
		}
	}
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.Type().IsRegular() && isPDF(e.Name()) {
			w.pending[filepath.Join(w.dir, e.Name())] = time.Time{}
		}
	}
	return nil
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !isPDF(event.Name) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.pending[event.Name] = time.Now()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
	}
}

// ready removes and returns the files that have been quiet for the settle period.
func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var paths []string
	for p, seen := range w.pending {
		if now.Sub(seen) >= w.opts.Settle {
			paths = append(paths, p)
			delete(w.pending, p)
		}
	}
	slices.Sort(paths)
	return paths
}

func (w *Watcher) retry(paths []string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		if _, ok := w.pending[p]; !ok {
			w.pending[p] = now
		}
	}
}

// document is a settled file read from disk.
type document struct {
	path string
	file client.File
}

func (w *Watcher) flush(ctx context.Context, now time.Time) {
	docs := w.load(w.ready(now))
	for chunk := range slices.Chunk(docs, w.opts.MaxFiles) {
		if ctx.Err() != nil {
			w.retry(docPaths(chunk), now)
			return
		}
		w.submitChunk(ctx, chunk, now)
	}
}

// load reads the settled files. Files that would fail server validation are
// moved to FailedDir one by one so they cannot take a whole chunk down.
func (w *Watcher) load(paths []string) []document {
	docs := make([]document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("read file", "path", p, "error", err)
			}
			continue
		}
		if err := w.check(data); err != nil {
			w.logger.Warn("file refused", "path", p, "error", err)
			w.move([]string{p}, w.opts.FailedDir)
			if w.opts.OnBatch != nil {
				w.opts.OnBatch(nil, []string{p}, fmt.Errorf("%s: %w", filepath.Base(p), err))
			}
			continue
		}
		docs = append(docs, document{path: p, file: client.File{Name: filepath.Base(p), Content: data}})
	}
	return docs
}

func (w *Watcher) check(data []byte) error {
	if int64(len(data)) > w.opts.MaxFileBytes {
		return fmt.Errorf("%d bytes exceed the limit of %d", len(data), w.opts.MaxFileBytes)
	}
	if !bytes.HasPrefix(data, pdfSignature) {
		return ErrNotPDF
	}
	return nil
}

func docPaths(docs []document) []string {
	paths := make([]string, len(docs))
	for i, d := range docs {
		paths[i] = d.path
	}
	return paths
}

func (w *Watcher) submitChunk(ctx context.Context, docs []document, now time.Time) {
	if len(docs) == 0 {
		return
	}
	files := make([]client.File, len(docs))
	for i, d := range docs {
		files[i] = d.file
	}
	sent := docPaths(docs)

	res, err := w.submit(ctx, files)
	var apiErr *client.APIError
	switch {
	case err == nil:
		w.logger.Info("batch submitted", "batch_id", res.BatchID, "files", len(sent), "async", res.IsAsync)
		w.move(sent, filepath.Join(w.opts.DoneDir, res.BatchID))
	case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
		w.logger.Warn("batch rejected", "files", len(sent), "error", err)
		w.move(sent, w.opts.FailedDir)
	default:
		// server unreachable or overloaded; try again after another settle period
		w.logger.Warn("submit failed, will retry", "files", len(sent), "error", err)
		w.retry(sent, now)
		if apiErr == nil {
			return
		}
	}
	if w.opts.OnBatch != nil {
		w.opts.OnBatch(res, sent, err)
	}
}

func (w *Watcher) move(paths []string, dest string) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		w.logger.Error("create directory", "path", dest, "error", err)
		return
	}
	for _, p := range paths {
		target := filepath.Join(dest, filepath.Base(p))
		if err := os.Rename(p, target); err != nil {
			w.logger.Error("move file", "from", p, "to", target, "error", err)
		}
	}
}
