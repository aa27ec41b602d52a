package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"loupe/internal/autostart"
)

func newAutostartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage launch at login",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Register loupe to start at login",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := autostart.Enable(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s autostart enabled\n", green("✓"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Remove the login entry",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := autostart.Disable(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s autostart disabled\n", green("✓"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether loupe starts at login",
			RunE: func(cmd *cobra.Command, _ []string) error {
				enabled, err := autostart.Enabled()
				if err != nil {
					if errors.Is(err, autostart.ErrUnsupported) {
						fmt.Fprintln(cmd.OutOrStdout(), "autostart is not supported on this platform")
						return nil
					}
					return err
				}
				if enabled {
					fmt.Fprintf(cmd.OutOrStdout(), "%s autostart is enabled\n", green("●"))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s autostart is disabled\n", gray("●"))
				}
				return nil
			},
		},
	)
	return cmd
}
