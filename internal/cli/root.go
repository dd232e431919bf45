// Package cli provides the command-line interface for floorplan imports.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/floorplan-import/internal/client"
	"github.com/raphaelgruber/floorplan-import/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	serverFlag string
	tenantFlag string

	cfg       config.ClientConfig
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "floorplan",
	Short: "Import floor-plan PDFs into the building registry",
	Long: `Floorplan uploads floor-plan PDFs to the import server, lets you review and
correct what was extracted from them, and registers the result as buildings
and rooms.

A typical session:
  floorplan submit plans/*.pdf --wait
  floorplan show <batch>
  floorplan edit <batch> <item> --set room.rent=92000
  floorplan register <batch>`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.LoadClient()
		if serverFlag != "" {
			cfg.ServerURL = serverFlag
		}
		if tenantFlag != "" {
			cfg.TenantID = tenantFlag
		}
		if cfg.TenantID == "" {
			return fmt.Errorf("no tenant: set FLOORPLAN_TENANT or --tenant")
		}

		apiClient = client.New(cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "import server URL (default $FLOORPLAN_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "tenant id (default $FLOORPLAN_TENANT)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(importsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(jobsCmd)
}
