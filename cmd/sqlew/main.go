// Command sqlew is the supervisor binary: it resolves configuration, opens
// the database, runs migrations, and runs one of the maintenance/query
// subcommands. It serves no tool-call loop (the RPC transport is out of
// scope); run with no subcommand, it exits with an error. Hook entry-point subcommands never open the database; they
// enqueue to the hook queue and exit, per the short-lived-hook-CLI contract.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
