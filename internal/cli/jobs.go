package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect migration jobs",
	Long: `List all migration jobs or inspect a specific job by ID.

Examples:
  codeconvert jobs           # List all jobs
  codeconvert jobs 3f2a...   # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// If job ID provided, show that specific job
	if len(args) == 1 {
		return showJob(ctx, args[0])
	}

	// List all jobs
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-24s %-10s %-10s %s\n", "ID", "STATUS", "FILE", "TARGET", "PROGRESS", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		target := job.Language + " " + job.ToVersion
		started := job.StartedAt.Format("15:04:05")
		fmt.Printf("%-36s %-10s %-24s %-10s %-10s %s\n", job.ID, job.Status, truncateName(job.Filename, 24), target, progress, started)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  File: %s\n", job.Filename)
	fmt.Printf("  Migration: %s %s -> %s\n", job.Language, job.FromVersion, job.ToVersion)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Phase != "" {
		fmt.Printf("  Phase: %s\n", job.Phase)
	}
	if job.Total > 0 {
		fmt.Printf("  Progress: %d/%d\n", job.Progress, job.Total)
	}
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}

	if job.Error != nil && *job.Error != "" {
		fmt.Printf("  Error: %s\n", *job.Error)
	}

	if job.Result != nil {
		printResponse(job.Result)
	}

	return nil
}

// truncateName shortens s to n characters for table output.
func truncateName(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
