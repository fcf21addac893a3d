// Command ticketbridge runs the Linear <-> GitHub issue sync service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncfork/ticketbridge/internal/config"
	"github.com/syncfork/ticketbridge/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	dbPath     string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ticketbridge",
	Short: "Bidirectional Linear/GitHub issue sync",
	Long: `ticketbridge mirrors issues, comments, labels, assignees, milestones,
and state between a Linear team and a GitHub repository.

Each sync links one Linear team to one GitHub repository. Adding the
configured public marker label to a Linear ticket mirrors it to GitHub;
removing the label unlinks it. Changes on either side propagate through
webhooks received by 'ticketbridge serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		if err := telemetry.Init(cmd.Context(), "ticketbridge", Version); err != nil {
			// Telemetry is best-effort; the sync itself must not depend on it.
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ticketbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ticketbridge %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Correspondence database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
