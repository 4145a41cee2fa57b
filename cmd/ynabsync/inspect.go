package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/djlord-it/ynab-sync/internal/config"
	"github.com/djlord-it/ynab-sync/internal/cron"
	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/metrics"
	"github.com/djlord-it/ynab-sync/internal/scheduler"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and the job list (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			graph, err := loadGraph(cfg, metrics.NewNoopSink(), false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (%d job(s) enabled)\n", len(graph.Jobs))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			data, err := cfg.MaskedJSON()
			if err != nil {
				return runtimeError(fmt.Errorf("failed to marshal config: %w", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// upcomingFirings is one job's entry in the schedule output.
type upcomingFirings struct {
	Job        string      `json:"job"`
	Function   string      `json:"function"`
	Expression string      `json:"expression"`
	Next       []time.Time `json:"next"`
}

func scheduleCmd() *cobra.Command {
	var (
		count   int
		asJSON  bool
		fromStr string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the next firings of every enabled job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(err)
			}
			from := time.Now().UTC()
			if fromStr != "" {
				t, err := time.Parse(time.RFC3339, fromStr)
				if err != nil {
					return invalidConfig(fmt.Errorf("--from: %w", err))
				}
				from = t.UTC()
			}

			graph, err := loadGraph(cfg, metrics.NewNoopSink(), true)
			if err != nil {
				return err
			}
			out, err := upcoming(graph, from, count)
			if err != nil {
				return runtimeError(err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for _, u := range out {
				next := make([]string, len(u.Next))
				for i, t := range u.Next {
					next[i] = t.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.Job, u.Expression, strings.Join(next, " "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of firings to show per job")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&fromStr, "from", "", "Start time (RFC 3339, default now)")
	return cmd
}

func upcoming(graph domain.Graph, from time.Time, n int) ([]upcomingFirings, error) {
	out := make([]upcomingFirings, 0, len(graph.Jobs))
	for _, job := range graph.Jobs {
		sched, err := scheduler.RuleSchedules{}.ScheduleFor(job.Rule)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Job, err)
		}
		out = append(out, upcomingFirings{
			Job:        job.Job,
			Function:   job.Function.Name,
			Expression: job.Rule.Expression,
			Next:       cron.Upcoming(sched, from, n),
		})
	}
	return out, nil
}
