package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags.
var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	dataDir string
	apiBase string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "loupe",
		Short:         "Personal activity tracker",
		Long:          "Loupe records what you work on, classifies it with rules and keeps distractions in check.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "override the data directory")
	root.PersistentFlags().StringVar(&flags.apiBase, "api", "http://127.0.0.1:8000", "base URL of the local daemon API")

	root.AddCommand(
		newRunCmd(flags),
		newStatusCmd(flags),
		newTopCmd(flags),
		newReportCmd(flags),
		newClassifyCmd(flags),
		newRulesCmd(flags),
		newFocusCmd(flags),
		newAutostartCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the loupe version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loupe %s\n", version)
		},
	}
}
