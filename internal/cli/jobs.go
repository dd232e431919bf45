package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List analysis runs on the server",
	Long: `List the analysis runs the server knows about for your tenant:
inline runs of small batches and queued runs of larger ones.`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	jobs, err := apiClient.Jobs(context.Background())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-7s %-10s %-9s %-9s %s\n", "BATCH", "MODE", "STATUS", "PROGRESS", "QUEUED", "DURATION")
	fmt.Println("------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		duration := ""
		if job.StartedAt != nil {
			end := time.Now()
			if job.CompletedAt != nil {
				end = *job.CompletedAt
			}
			duration = end.Sub(*job.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%-36s %-7s %-10s %-9s %-9s %s\n",
			job.BatchID, job.Mode, job.Status, progress, job.QueuedAt.Local().Format("15:04:05"), duration)
		if job.Error != "" {
			fmt.Printf("    error: %s\n", job.Error)
		}
	}

	return nil
}
