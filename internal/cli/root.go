// Package cli provides the command-line interface for codeconvert.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/Satyacharanv/CodeConversionAI/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "codeconvert",
	Short: "Migrate source code between language versions",
	Long: `Codeconvert uploads a source file or project to a migration server,
follows the migration and fetches the migrated files.

The server analyses the project structure, reviews local migration
guides, migrates every code file with an LLM and writes a summary.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip the client for commands that work locally
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "tree" {
			return nil
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $CODECONVERT_SERVER_URL or http://localhost:8000)")

	// Add subcommands
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(treeCmd)
}
