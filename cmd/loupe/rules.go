package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"loupe/internal/backup"
)

func newRulesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Export and import classification rules",
	}
	cmd.AddCommand(newRulesExportCmd(flags), newRulesImportCmd(flags))
	return cmd
}

func newRulesExportCmd(flags *rootFlags) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export rules and their tags to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(flags.apiBase)
			path := "/api/data/rules/export"
			if asYAML {
				path += "?format=yaml"
			}
			raw, err := client.getRaw(path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], raw, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rules exported to %s\n", green("✓"), args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "write YAML instead of JSON")
	return cmd
}

func newRulesImportCmd(flags *rootFlags) *cobra.Command {
	var (
		asYAML  bool
		replace bool
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import rules from a file, with a diff preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var incoming *backup.RulesExport
			if asYAML {
				incoming, err = backup.ParseRulesYAML(raw)
			} else {
				incoming, err = backup.ParseRulesJSON(raw)
			}
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			client := newAPIClient(flags.apiBase)
			currentRaw, err := client.getRaw("/api/data/rules/export")
			if err != nil {
				return err
			}
			current, err := backup.ParseRulesJSON(currentRaw)
			if err != nil {
				return fmt.Errorf("parsing current rules: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, rulesDiff(current, incoming))
			if !yes {
				confirm := promptui.Prompt{
					Label:     fmt.Sprintf("Apply %d rules (%s mode)", len(incoming.Rules), importModeName(replace)),
					IsConfirm: true,
				}
				if _, err := confirm.Run(); err != nil {
					fmt.Fprintln(out, "import aborted")
					return nil
				}
			}

			body, err := incoming.MarshalJSONBytes()
			if err != nil {
				return err
			}
			var result backup.ImportResult
			path := fmt.Sprintf("/api/data/rules/import?merge_mode=%t", !replace)
			if err := client.postRaw(path, "application/json", body, &result); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s created %d rules, %d tags; skipped %d; removed %d\n",
				green("✓"), result.RulesCreated, result.TagsCreated, result.RulesSkipped, result.RulesRemoved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "parse the file as YAML")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace existing rules instead of merging")
	cmd.Flags().BoolVar(&yes, "yes", false, "apply without asking")
	return cmd
}

func importModeName(replace bool) string {
	if replace {
		return "replace"
	}
	return "merge"
}

// rulesDiff renders a colored line diff between the current rule set and the
// incoming one, both normalised to indented JSON.
func rulesDiff(current, incoming *backup.RulesExport) string {
	a := normalisedRules(current)
	b := normalisedRules(incoming)
	if a == b {
		return gray("no rule changes\n")
	}
	dmp := diffmatchpatch.New()
	wa, wb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(wa, wb, false), lines)
	return dmp.DiffPrettyText(diffs)
}

// normalisedRules strips the volatile export date so it never shows as a
// change.
func normalisedRules(doc *backup.RulesExport) string {
	copyDoc := *doc
	copyDoc.ExportDate = ""
	raw, err := json.MarshalIndent(copyDoc, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw) + "\n"
}
