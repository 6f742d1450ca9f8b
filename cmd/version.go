package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Set with -ldflags "-X github.com/kozaktomas/face-attendance/cmd.Version=...".
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information and compiled-in store backends",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s (%s, built %s)\n", headColor.Sprint("face-attendance"), Version, CommitSHA, BuildDate)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  backends: %s\n", strings.Join(database.Drivers(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
