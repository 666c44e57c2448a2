package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "beadhub",
	Short: "BeadHub coordination server",
	Long: `BeadHub coordinates fleets of autonomous agents working against
shared Git repositories: who is online, what they're working on, who
has claimed which issue, and who needs notifying when a tracked issue
changes state.`,
}

// execute runs the root command and returns a process exit code, the
// same split the teacher's gt CLI uses between main and its cobra tree.
func execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
