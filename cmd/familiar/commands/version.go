package commands

import (
	"fmt"
	"runtime"

	"github.com/MEKXH/familiar/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of Familiar",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current()
			line := fmt.Sprintf("familiar %s %s/%s", info.Version, runtime.GOOS, runtime.GOARCH)
			if info.Commit != "" {
				line += " (" + shortCommit(info.Commit) + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		},
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
