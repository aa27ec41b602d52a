package main

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func newFocusCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Inspect and reset focus blocks",
	}
	cmd.AddCommand(newFocusResetCmd(flags))
	return cmd
}

// newFocusResetCmd performs the emergency reset: every block flag is
// cleared, after a reason prompt and confirmation. The reason requirement
// mirrors the API's.
func newFocusResetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Emergency-reset every focus block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reasonPrompt := promptui.Prompt{
				Label: "Why do you need the blocks lifted",
				Validate: func(input string) error {
					if len(strings.TrimSpace(input)) < 10 {
						return fmt.Errorf("give at least 10 characters")
					}
					return nil
				},
			}
			reason, err := reasonPrompt.Run()
			if err != nil {
				return err
			}

			confirm := promptui.Prompt{
				Label:     "Clear every block flag now",
				IsConfirm: true,
			}
			if _, err := confirm.Run(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "reset aborted")
				return nil
			}

			client := newAPIClient(flags.apiBase)
			var result struct {
				Cleared int `json:"cleared"`
			}
			if err := client.postJSON("/api/focus/emergency-reset",
				map[string]string{"reason": reason}, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cleared %d block(s)\n", green("✓"), result.Cleared)
			return nil
		},
	}
}
