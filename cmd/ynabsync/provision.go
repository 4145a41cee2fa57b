package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/djlord-it/ynab-sync/internal/config"
	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/metrics"
	"github.com/djlord-it/ynab-sync/internal/platform"
	"github.com/djlord-it/ynab-sync/internal/platform/awsplatform"
	"github.com/djlord-it/ynab-sync/internal/provisioner"
)

// loadGraph reads and validates the job list, then renders it. Jobs that
// fail to render are logged; unless allowPartial is set any such failure
// refuses the whole graph.
func loadGraph(cfg config.Config, sink provisioner.MetricsSink, allowPartial bool) (domain.Graph, error) {
	jobs, err := config.LoadJobs(cfg.JobsFile)
	if err != nil {
		return domain.Graph{}, invalidConfig(err)
	}
	if err := config.ValidateJobs(jobs); err != nil {
		return domain.Graph{}, invalidConfig(fmt.Errorf("%s: %w", cfg.JobsFile, err))
	}

	graph, err := provisioner.New(cfg, config.Snapshot()).WithMetrics(sink).Render(jobs)
	if err != nil {
		failed := provisioner.JobErrors(err)
		for _, jerr := range failed {
			log.Error().Str("component", "provisioner").Str("job", jerr.Job).Str("key", jerr.Key).Msg(jerr.Reason)
		}
		if !allowPartial {
			return domain.Graph{}, invalidConfig(fmt.Errorf("%d job(s) could not be rendered: %w", len(failed), err))
		}
		log.Warn().Str("component", "provisioner").Int("failed", len(failed)).Int("rendered", len(graph.Jobs)).
			Msg("continuing with partial graph")
	}
	return graph, nil
}

// textfileRegistry returns a registry for one-shot commands and a function
// that writes it to METRICS_TEXTFILE when configured.
func textfileRegistry(cfg config.Config) (*metrics.PrometheusSink, func()) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)
	return sink, func() {
		if cfg.MetricsTextfile == "" {
			return
		}
		if err := metrics.WriteTextfile(cfg.MetricsTextfile, reg); err != nil {
			log.Warn().Str("component", "metrics").Str("path", cfg.MetricsTextfile).Err(err).Msg("failed to write textfile")
		}
	}
}

func renderCmd() *cobra.Command {
	var allowPartial bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the job list into a resource graph and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(fmt.Errorf("configuration error: %w", err))
			}

			sink, flush := textfileRegistry(cfg)
			defer flush()

			graph, err := loadGraph(cfg, sink, allowPartial)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(graph); err != nil {
				return runtimeError(fmt.Errorf("encode graph: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Render the jobs that resolve even when others fail")
	return cmd
}

func applyCmd() *cobra.Command {
	var allowPartial bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update the rendered resources on AWS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if err := config.ValidateApply(cfg); err != nil {
				return invalidConfig(fmt.Errorf("configuration error: %w", err))
			}

			sink, flush := textfileRegistry(cfg)
			defer flush()

			graph, err := loadGraph(cfg, sink, allowPartial)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			aws, err := awsplatform.New(ctx, cfg.AWSRegion)
			if err != nil {
				return runtimeError(err)
			}
			return apply(ctx, platform.NewApplier(aws).WithMetrics(sink), graph)
		},
	}

	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Apply the jobs that resolve even when others fail")
	return cmd
}

func apply(ctx context.Context, applier *platform.Applier, graph domain.Graph) error {
	n, err := applier.Apply(ctx, graph)
	if err != nil {
		var perr *platform.ProvisioningError
		if errors.As(err, &perr) {
			log.Error().Str("component", "apply").Str("kind", string(perr.Kind)).Str("resource", perr.Resource).
				Int("applied", n).Err(perr.Err).Msg("provisioning aborted")
		}
		return runtimeError(err)
	}
	log.Info().Str("component", "apply").Int("resources", n).Int("jobs", len(graph.Jobs)).Msg("applied")
	return nil
}
