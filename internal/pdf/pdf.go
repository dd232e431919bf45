// Package pdf wraps the poppler command-line tools used to render floor-plan
// thumbnails and to pull text out of documents for text-only analyzers.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrToolMissing indicates the poppler binary could not be found.
var ErrToolMissing = errors.New("poppler tool not available")

// DefaultThumbnailWidth is the longest edge of rendered previews, in pixels.
const DefaultThumbnailWidth = 480

// Tools runs pdftoppm and pdftotext.
type Tools struct {
	pdftoppm  string
	pdftotext string
	width     int
}

// New returns Tools using the given binary names or paths. Empty names fall
// back to the binaries on PATH.
func New(pdftoppm, pdftotext string) *Tools {
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	if pdftotext == "" {
		pdftotext = "pdftotext"
	}
	return &Tools{pdftoppm: pdftoppm, pdftotext: pdftotext, width: DefaultThumbnailWidth}
}

// WithThumbnailWidth overrides the preview size.
func (t *Tools) WithThumbnailWidth(px int) *Tools {
	if px > 0 {
		t.width = px
	}
	return t
}

// Available reports whether both binaries resolve.
func (t *Tools) Available() bool {
	_, errPPM := exec.LookPath(t.pdftoppm)
	_, errText := exec.LookPath(t.pdftotext)
	return errPPM == nil && errText == nil
}

// RenderFirstPage rasterizes page one of the document as PNG.
func (t *Tools) RenderFirstPage(ctx context.Context, document []byte) ([]byte, error) {
	dir, input, err := stage(document)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if _, err := t.run(ctx, t.pdftoppm,
		"-png", "-f", "1", "-l", "1", "-singlefile",
		"-scale-to", strconv.Itoa(t.width),
		input, prefix,
	); err != nil {
		return nil, fmt.Errorf("render first page: %w", err)
	}

	png, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("render first page: read output: %w", err)
	}
	return png, nil
}

// ExtractText returns the document text with its layout preserved.
func (t *Tools) ExtractText(ctx context.Context, document []byte) (string, error) {
	dir, input, err := stage(document)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	out, err := t.run(ctx, t.pdftotext, "-layout", "-enc", "UTF-8", input, "-")
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// stage writes the document to a private temp dir; poppler reads files, not stdin.
func stage(document []byte) (string, string, error) {
	dir, err := os.MkdirTemp("", "floorplan-pdf-")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, document, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("write temp document: %w", err)
	}
	return dir, input, nil
}

func (t *Tools) run(ctx context.Context, binary string, args ...string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, binary)
	}

	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec // binary comes from configuration, args are built here
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s failed: %w (stderr: %s)", filepath.Base(binary), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
