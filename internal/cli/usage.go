package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/spf13/cobra"
)

var usageServer string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show server usage statistics",
	Long: `Show a threadchat server's runtime statistics: reply and store timings
and token usage for cost monitoring. Statistics are kept in memory since the
server started.

Examples:
  threadchat usage
  threadchat usage --server http://chat.local:8484`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageServer, "server", "", "server URL (default from THREADCHAT_SERVER_URL)")
}

func runUsage(cmd *cobra.Command, args []string) error {
	stats, err := serverClient(usageServer).GetStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(cmd.OutOrStdout(), stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, stats *metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", stats.UptimeSeconds)

	if stats.LLMGenerate != nil {
		fmt.Fprintf(w, "\nLLM Generate:\n")
		printOpStats(w, stats.LLMGenerate)
		printTokenStats(w, stats.LLMGenerate)
	}

	if stats.LLMStream != nil {
		fmt.Fprintf(w, "\nLLM Stream:\n")
		printOpStats(w, stats.LLMStream)
		printTokenStats(w, stats.LLMStream)
	}

	if stats.StoreAppend != nil {
		fmt.Fprintf(w, "\nStore Append:\n")
		printOpStats(w, stats.StoreAppend)
	}

	if stats.StoreLoad != nil {
		fmt.Fprintf(w, "\nStore Load:\n")
		printOpStats(w, stats.StoreLoad)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Fprintf(w, ", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Fprintf(w, ", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Fprintln(w)
}
