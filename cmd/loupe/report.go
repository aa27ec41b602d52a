package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type processPayload struct {
	ProcessName string  `json:"process_name"`
	Seconds     float64 `json:"seconds"`
}

type reportPayload struct {
	dailyPayload
	TopProcesses []processPayload `json:"top_processes"`
}

func newReportCmd(flags *rootFlags) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a day report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			client := newAPIClient(flags.apiBase)
			var daily reportPayload
			if err := client.getJSON("/api/dashboard/daily?date="+date, &daily); err != nil {
				return err
			}

			markdown := buildReportMarkdown(daily)
			if !isTTY() {
				fmt.Fprint(cmd.OutOrStdout(), markdown)
				return nil
			}

			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil || width <= 0 {
				width = 80
			}
			if width > 120 {
				width = 120
			}
			renderer, err := glamour.NewTermRenderer(
				glamour.WithStandardStyle("dark"),
				glamour.WithWordWrap(width-2),
			)
			if err != nil {
				return fmt.Errorf("building renderer: %w", err)
			}
			rendered, err := renderer.Render(markdown)
			if err != nil {
				return fmt.Errorf("rendering report: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "report date (YYYY-MM-DD, default today)")
	return cmd
}

func buildReportMarkdown(daily reportPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Loupe report: %s\n\n", daily.Date)
	fmt.Fprintf(&b, "Tracked **%s** across %d activities (%d tag switches).\n\n",
		formatSeconds(daily.TotalSeconds), daily.ActivityCount, daily.TagSwitches)

	if len(daily.TagStats) > 0 {
		b.WriteString("## Time by tag\n\n")
		b.WriteString("| Tag | Time | Share |\n|---|---|---|\n")
		for _, st := range daily.TagStats {
			if st.Seconds < 1 {
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %.1f%% |\n", st.TagName, formatSeconds(st.Seconds), st.Percent)
		}
		b.WriteString("\n")
	}
	if len(daily.TopProcesses) > 0 {
		b.WriteString("## Top processes\n\n")
		for _, p := range daily.TopProcesses {
			fmt.Fprintf(&b, "- `%s`: %s\n", p.ProcessName, formatSeconds(p.Seconds))
		}
		b.WriteString("\n")
	}
	return b.String()
}
