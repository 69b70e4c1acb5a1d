package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	dbPathFlag  string
	projectFlag string
	agentFlag   string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path, overriding .sqlew/config.toml (sqlite only)")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "project name (default: current directory name)")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "agent name for audit trail (default: $SQLEW_AGENT or \"cli\")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose/debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output (errors only)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "data", Title: "Data Migration:"},
		&cobra.Group{ID: "query", Title: "Querying:"},
		&cobra.Group{ID: "hooks", Title: "Hook Entry Points (queue-only, no database open):"},
	)

	rootCmd.AddCommand(initCmd, dbCmd, queryCmd)
	rootCmd.AddCommand(hookCommands()...)
}

var rootCmd = &cobra.Command{
	Use:   "sqlew",
	Short: "sqlew - shared context store for cooperating coding agents",
	Long: `sqlew tracks the decisions, constraints, tasks, and file changes
multiple coding agents make against one project, so each agent reads the
others' context instead of rediscovering or contradicting it.

Running sqlew with no subcommand exits with an error: this binary
implements no tool-call transport, so all work goes through the
subcommands below.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("no transport implementation is wired to this build; run a subcommand instead (see --help)")
	},
}
