package main

import (
	"context"

	"github.com/spf13/cobra"

	"loupe/internal/app"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var console bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracking daemon",
		Long:  "Run the monitor loop, browser-extension listener and local API until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(context.Background(), app.Options{
				DataDir: flags.dataDir,
				Console: console,
			})
		},
	}
	cmd.Flags().BoolVar(&console, "console", true, "mirror logs to the console")
	return cmd
}
