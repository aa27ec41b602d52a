package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/rules"
	"loupe/internal/store"
)

// newClassifyCmd opens the database directly (WAL tolerates the running
// daemon) and answers what the current rule set would do with an
// observation. Input format: process|title|url, later parts optional.
func newClassifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Interactively test rule classification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			manager, err := config.NewManager(flags.dataDir)
			if err != nil {
				return err
			}
			st, err := store.Open(ctx, manager.Paths().DBFile, logging.Nop())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			engine, err := rules.NewEngine(ctx, st, logging.Nop(), nil)
			if err != nil {
				return err
			}

			rl, err := readline.New(bold("classify> "))
			if err != nil {
				return err
			}
			defer func() { _ = rl.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Enter process|title|url (title and url optional). Ctrl-D to quit.")
			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) {
						continue
					}
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}

				obs := parseObservation(line)
				match, err := engine.Match(ctx, obs)
				if err != nil {
					fmt.Fprintf(out, "%s %v\n", red("error:"), err)
					continue
				}
				if match.RuleID == nil {
					fmt.Fprintf(out, "-> %s %s\n", bold(match.TagName), gray("(no rule matched)"))
					continue
				}
				rule, err := st.GetRule(ctx, *match.RuleID)
				if err != nil {
					fmt.Fprintf(out, "-> %s %s\n", bold(match.TagName), gray(fmt.Sprintf("(rule %d)", *match.RuleID)))
					continue
				}
				fmt.Fprintf(out, "-> %s %s\n", bold(match.TagName),
					gray(fmt.Sprintf("(rule %q, priority %d)", rule.Name, rule.Priority)))
			}
		},
	}
}

func parseObservation(line string) rules.Observation {
	parts := strings.SplitN(line, "|", 3)
	obs := rules.Observation{ProcessName: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		obs.WindowTitle = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		obs.URL = strings.TrimSpace(parts[2])
	}
	return obs
}
