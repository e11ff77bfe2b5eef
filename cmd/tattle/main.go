package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "tattle",
		Short: "Dead-man's-switch liveness monitor",
		Long: "tattle tracks heartbeat reports from external processes and renders\n" +
			"per-process health: healthy, overdue, explicitly failed, or deferred.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newReportCmd(),
		newRegisterCmd(),
		newStatusCmd(),
		newSeverityCmd(),
		newShowCmd(),
		newArchiveCmd(),
		newInitCmd(),
	)
	return root
}
