// Package blob stores uploaded documents and rendered thumbnails.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Sentinel errors for blob operations.
var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a flat key/value byte store. Keys are slash-separated relative paths.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey is where an item's uploaded PDF lives.
func DocumentKey(tenantID, batchID, itemID string) string {
	return path.Join(sanitize(tenantID), sanitize(batchID), sanitize(itemID)+".pdf")
}

// ThumbnailKey is where the first-page preview of a document lives.
func ThumbnailKey(documentKey string) string {
	return documentKey + ".thumb.png"
}

// sanitize keeps a path segment from escaping its directory.
func sanitize(segment string) string {
	segment = strings.NewReplacer("/", "_", "\\", "_").Replace(segment)
	if segment == "" || segment == "." || segment == ".." {
		return "_"
	}
	return segment
}

// FS is a Store on an afero filesystem.
type FS struct {
	fs afero.Fs
}

var _ Store = (*FS)(nil)

// NewFS wraps an afero filesystem.
func NewFS(fsys afero.Fs) *FS {
	return &FS{fs: fsys}
}

// NewDir stores blobs under root on the OS filesystem.
func NewDir(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return NewFS(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// NewMemory keeps blobs in memory.
func NewMemory() *FS {
	return NewFS(afero.NewMemMapFs())
}

func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if key == "" || cleaned == "" || cleaned != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// Put writes data under key, replacing any previous content. The write goes
// through a temporary file so readers never see a partial blob.
func (s *FS) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	tmp := key + ".tmp-" + uuid.NewString()[:8]
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, key); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get reads the blob under key.
func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether a blob is stored under key.
func (s *FS) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, key)
}

// Delete removes the blob under key. Deleting a missing blob is not an error.
func (s *FS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
