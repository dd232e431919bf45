package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <batch-id>",
	Short: "Register the analyzed items of a batch as buildings and rooms",
	Long: `Register the analyzed items of a batch as buildings and rooms.

Each item is committed on its own: an item that fails is reported and
skipped while the others are still registered.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	res, err := apiClient.Register(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	fmt.Printf("Registered %d item(s), %d failed\n", res.SuccessCount, res.FailedCount)
	for _, e := range res.Errors {
		fmt.Printf("  ✗ %s (%s): %s\n", e.Filename, e.ItemID, e.Message)
	}
	if res.FailedCount > 0 && res.SuccessCount == 0 {
		return fmt.Errorf("no items registered")
	}
	return nil
}
