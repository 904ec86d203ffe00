package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show server runtime statistics: LLM calls and token usage, agent runs,
tool calls, file migrations, staging and archive timings.

Examples:
  codeconvert stats`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.GetServerStats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)

	sections := []struct {
		title  string
		op     *metrics.OperationSnapshot
		tokens bool
	}{
		{"LLM Generate", stats.LLMGenerate, true},
		{"Agent Runs", stats.AgentRun, false},
		{"Tool Calls", stats.ToolCall, false},
		{"File Migrations", stats.FileMigration, false},
		{"Staging", stats.Staging, false},
		{"Archives", stats.Archive, false},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Printf("\n%s:\n", s.title)
		printOpStats(s.op)
		if s.tokens {
			printTokenStats(s.op)
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	fmt.Println()
}
