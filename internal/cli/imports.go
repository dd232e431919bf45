package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

var importsLimit int

var importsCmd = &cobra.Command{
	Use:     "imports",
	Aliases: []string{"ls"},
	Short:   "List recent import batches",
	Args:    cobra.NoArgs,
	RunE:    runImports,
}

var showCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show a batch with its items and match candidates",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	importsCmd.Flags().IntVarP(&importsLimit, "limit", "n", 20, "maximum number of batches")
}

func runImports(cmd *cobra.Command, args []string) error {
	batches, err := apiClient.ListImports(context.Background(), importsLimit)
	if err != nil {
		return fmt.Errorf("list imports: %w", err)
	}

	if len(batches) == 0 {
		fmt.Println("No imports found")
		return nil
	}

	fmt.Printf("%-36s %-11s %-7s %-9s %-7s %s\n", "ID", "STATUS", "FILES", "ANALYZED", "ERRORS", "CREATED")
	fmt.Println(strings.Repeat("-", 90))
	for _, b := range batches {
		fmt.Printf("%-36s %-11s %-7d %-9d %-7d %s\n",
			b.ID, b.Status, b.TotalFiles, b.AnalyzedCount, b.ErrorCount,
			b.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	detail, err := apiClient.GetImport(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get import: %w", err)
	}

	printBatch(detail.Batch)
	fmt.Println()
	printItems(detail.Items)

	if verbose && len(detail.Batch.Log) > 0 {
		fmt.Println("\nLog:")
		for _, e := range detail.Batch.Log {
			fmt.Printf("  %s [%s] %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
		}
	}
	return nil
}

func printBatch(b *models.ImportBatch) {
	fmt.Printf("Batch: %s\n", b.ID)
	fmt.Printf("  Status: %s\n", b.Status)
	fmt.Printf("  Files: %d (analyzed %d, errors %d)\n", b.TotalFiles, b.AnalyzedCount, b.ErrorCount)
	if b.RoomsCreated > 0 || b.BuildingsCreated > 0 || b.BuildingsMatched > 0 {
		fmt.Printf("  Registered: %d rooms, %d new buildings, %d matched\n",
			b.RoomsCreated, b.BuildingsCreated, b.BuildingsMatched)
	}
	if b.Failure != "" {
		fmt.Printf("  Failure: %s\n", b.Failure)
	}
	fmt.Printf("  Created: %s\n", b.CreatedAt.Format(time.RFC3339))
	if b.StartedAt != nil && b.CompletedAt != nil {
		fmt.Printf("  Duration: %s\n", b.CompletedAt.Sub(*b.StartedAt).Round(time.Second))
	}
}

func printItems(items []*models.ImportItem) {
	for _, it := range items {
		fmt.Printf("%d. %s  [%s]  id=%s\n", it.DisplayOrder+1, it.Filename, it.Status(), it.ID)

		if msg := it.ErrorMessage(); msg != "" {
			fmt.Printf("   error: %s\n", msg)
			continue
		}

		data := it.EffectiveData()
		if b := data.Section(models.SectionBuilding); b != nil {
			fmt.Printf("   building: %s  %s\n", orDash(b.String("name")), b.String("address"))
		}
		if r := data.Section(models.SectionRoom); r != nil {
			fmt.Printf("   room: %s  %s  %s㎡  rent %s\n",
				orDash(r.String("room_number")), r.String("room_type"), r.String("area_sqm"), r.String("rent"))
		}
		if f := data.Strings(models.SectionFacilities); len(f) > 0 {
			fmt.Printf("   facilities: %s\n", strings.Join(f, ", "))
		}

		if it.Status() == models.ItemAnalyzed {
			if it.SelectedBuildingID != nil {
				fmt.Printf("   target: building %s\n", *it.SelectedBuildingID)
			} else {
				fmt.Println("   target: new building")
			}
		}
		for _, c := range it.Candidates() {
			fmt.Printf("   candidate %s  %.2f  %s (%s)\n", c.BuildingID, c.Score, c.BuildingName, strings.Join(c.Reasons, ", "))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
