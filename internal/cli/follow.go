package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

var followCmd = &cobra.Command{
	Use:   "follow <batch-id>",
	Short: "Stream a batch's progress until it is ready for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return followBatch(ctx, args[0])
	},
}

func followBatch(ctx context.Context, batchID string) error {
	var last client.Event
	err := apiClient.Follow(ctx, batchID, func(e client.Event) error {
		printEvent(e)
		last = e
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("follow: %w", err)
	}
	if last.Status == models.BatchFailed {
		return fmt.Errorf("batch %s failed", batchID)
	}
	return nil
}

func printEvent(e client.Event) {
	ts := e.At.Local().Format(time.TimeOnly)
	switch e.Type {
	case "item.updated":
		line := fmt.Sprintf("%s  item %s → %s", ts, e.ItemID, e.ItemStatus)
		if e.Message != "" {
			line += ": " + e.Message
		}
		fmt.Println(line)
	default:
		fmt.Printf("%s  batch %s  %d/%d analyzed, %d errors",
			ts, e.Status, e.Counters.AnalyzedCount, e.Counters.TotalFiles, e.Counters.ErrorCount)
		if e.Message != "" {
			fmt.Printf("  (%s)", e.Message)
		}
		fmt.Println()
	}
}
