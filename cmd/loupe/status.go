package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

type healthPayload struct {
	Status     string `json:"status"`
	Monitoring bool   `json:"monitoring"`
}

type tagStatPayload struct {
	TagName string  `json:"tag_name"`
	Seconds float64 `json:"seconds"`
	Percent float64 `json:"percent"`
}

type dailyPayload struct {
	Date          string           `json:"date"`
	TotalSeconds  float64          `json:"total_seconds"`
	TagStats      []tagStatPayload `json:"tag_stats"`
	ActivityCount int              `json:"activity_count"`
	TagSwitches   int              `json:"tag_switches"`
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and today's summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newAPIClient(flags.apiBase)
			out := cmd.OutOrStdout()

			var health healthPayload
			if err := client.getJSON("/api/health", &health); err != nil {
				fmt.Fprintf(out, "%s loupe daemon is not reachable: %v\n", red("●"), err)
				return nil
			}
			if health.Monitoring {
				fmt.Fprintf(out, "%s daemon running, monitoring active\n", green("●"))
			} else {
				fmt.Fprintf(out, "%s daemon running, monitoring paused\n", yellow("●"))
			}

			var daily dailyPayload
			if err := client.getJSON("/api/dashboard/daily", &daily); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s (%s tracked, %d activities, %d tag switches)\n",
				bold("Today "+daily.Date), formatSeconds(daily.TotalSeconds),
				daily.ActivityCount, daily.TagSwitches)
			for _, st := range daily.TagStats {
				if st.Seconds < 1 {
					continue
				}
				fmt.Fprintf(out, "  %-20s %10s %s\n",
					st.TagName, formatSeconds(st.Seconds), gray(fmt.Sprintf("%5.1f%%", st.Percent)))
			}
			return nil
		},
	}
}

func formatSeconds(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
