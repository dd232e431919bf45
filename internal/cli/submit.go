package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/floorplan-import/internal/client"
)

var submitWait bool

var submitCmd = &cobra.Command{
	Use:   "submit <file-or-dir>...",
	Short: "Upload floor-plan PDFs as one import batch",
	Long: `Upload floor-plan PDFs as one import batch.

Directories are expanded to the PDFs they contain (not recursive).
Small batches are analyzed while you wait; larger ones are queued on the
server. Use --wait to follow a queued batch until it is ready for review.

Examples:
  floorplan submit plan.pdf
  floorplan submit ./scans --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait for queued analysis to finish")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	paths, err := collectPDFs(args)
	if err != nil {
		return err
	}

	files := make([]client.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, client.File{Name: filepath.Base(p), Content: data})
	}

	res, err := apiClient.Submit(ctx, files)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Printf("Batch %s: %s (%d files)\n", res.BatchID, res.Message, res.TotalFiles)

	if !res.IsAsync {
		detail, err := apiClient.GetImport(ctx, res.BatchID)
		if err != nil {
			return fmt.Errorf("get import: %w", err)
		}
		printItems(detail.Items)
		return nil
	}

	if !submitWait {
		fmt.Printf("Analysis queued. Use 'floorplan follow %s' to watch progress.\n", res.BatchID)
		return nil
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunBatchProgress(apiClient, res.BatchID, res.TotalFiles)
	}
	return followBatch(ctx, res.BatchID)
}

// collectPDFs expands directories and rejects anything that is not a PDF.
func collectPDFs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !strings.EqualFold(filepath.Ext(arg), ".pdf") {
				return nil, fmt.Errorf("%s: not a PDF", arg)
			}
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}

	slices.Sort(paths)
	paths = slices.Compact(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no PDF files found")
	}
	return paths, nil
}
