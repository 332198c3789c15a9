package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(w, map[string]string{
					"version":   Version,
					"gitCommit": GitCommit,
					"buildTime": BuildTime,
					"goVersion": runtime.Version(),
					"goos":      runtime.GOOS,
					"goarch":    runtime.GOARCH,
				})
			}
			fmt.Fprintf(w, "sweepctl version %s\n", Version)
			fmt.Fprintf(w, "Git commit: %s\n", GitCommit)
			fmt.Fprintf(w, "Built: %s\n", BuildTime)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
