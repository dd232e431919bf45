package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/watcher"
)

var (
	watchSettle       time.Duration
	watchMaxFiles     int
	watchMaxFileBytes int64
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Submit PDFs dropped into a folder",
	Long: `Watch a folder and submit every PDF that lands in it.

Files are batched once they have stopped changing for the settle period.
Submitted files move to <dir>/processed/<batch-id>/, rejected ones to
<dir>/failed/. Files that are not PDFs or exceed --max-file-bytes go to
<dir>/failed/ on their own without being sent. Files are retried while the
server is unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watcher.DefaultSettle, "quiet period before a file is submitted")
	watchCmd.Flags().IntVar(&watchMaxFiles, "max-files", watcher.DefaultMaxFiles, "maximum files per batch")
	watchCmd.Flags().Int64Var(&watchMaxFileBytes, "max-file-bytes", watcher.DefaultMaxFileBytes, "largest file submitted")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	w, err := watcher.New(args[0], apiClient.Submit, watcher.Options{
		Settle:       watchSettle,
		MaxFiles:     watchMaxFiles,
		MaxFileBytes: watchMaxFileBytes,
		Logger:       logger,
		OnBatch: func(res *client.SubmitResult, paths []string, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %d file(s) rejected: %v\n", len(paths), err)
				return
			}
			fmt.Printf("✓ batch %s: %d file(s), %s\n", res.BatchID, len(paths), res.Message)
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
	return w.Run(ctx)
}
