package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/djlord-it/ynab-sync/internal/analytics"
	"github.com/djlord-it/ynab-sync/internal/api"
	"github.com/djlord-it/ynab-sync/internal/circuitbreaker"
	"github.com/djlord-it/ynab-sync/internal/config"
	"github.com/djlord-it/ynab-sync/internal/executor"
	"github.com/djlord-it/ynab-sync/internal/local"
	"github.com/djlord-it/ynab-sync/internal/metrics"
	"github.com/djlord-it/ynab-sync/internal/monitor"
	"github.com/djlord-it/ynab-sync/internal/platform"
	"github.com/djlord-it/ynab-sync/internal/platform/awsplatform"
)

const (
	notifyFailureThreshold = 3
	notifyCooldown         = 5 * time.Minute
)

func serveCmd() *cobra.Command {
	var (
		allowPartial bool
		notifyTopic  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rendered jobs on this machine until interrupted",
		Long: `serve registers the rendered graph on an in-process platform and runs it:
rules fire on their schedule, each firing runs LOCAL_COMMAND once with the
function's environment, and failed runs feed the function's error alarm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if err := config.Validate(cfg); err != nil {
				return invalidConfig(fmt.Errorf("configuration error: %w", err))
			}
			logConfigWarnings(cfg)
			return runServe(cmd.Context(), cfg, allowPartial, notifyTopic)
		},
	}

	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Run the jobs that resolve even when others fail")
	cmd.Flags().BoolVar(&notifyTopic, "notify-topic", false, "Also publish alerts to the AWS alert topic")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, allowPartial, notifyTopic bool) error {
	metricsSink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

	graph, err := loadGraph(cfg, metricsSink, allowPartial)
	if err != nil {
		return err
	}

	p := local.NewPlatform()
	if err := apply(ctx, platform.NewApplier(p).WithMetrics(metricsSink), graph); err != nil {
		return err
	}

	healthChecks := make(map[string]api.HealthChecker)

	var counter monitor.Counter
	if cfg.RedisAddr != "" {
		client, err := analytics.Connect(cfg.RedisAddr)
		if err != nil {
			return invalidConfig(fmt.Errorf("REDIS_ADDR: %w", err))
		}
		defer client.Close()
		counter = analytics.NewRedisCounter(client, 0)
		healthChecks["redis"] = api.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		log.Info().Str("component", "serve").Msg("error counts stored in redis")
	} else {
		counter = analytics.NewMemoryCounter()
		log.Info().Str("component", "serve").Msg("REDIS_ADDR not set; error counts kept in memory")
	}

	breaker := circuitbreaker.New(notifyFailureThreshold, notifyCooldown)
	notifier := monitor.Fanout{monitor.LogNotifier{}}
	if cfg.AlertWebhookURL != "" {
		notifier = append(notifier, monitor.Guarded{
			Name:     "webhook",
			Notifier: monitor.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret),
			Breaker:  breaker,
		})
	}
	if notifyTopic {
		aws, err := awsplatform.New(ctx, cfg.AWSRegion)
		if err != nil {
			return runtimeError(err)
		}
		notifier = append(notifier, monitor.Guarded{
			Name:     "topic",
			Notifier: monitor.NewTopicNotifier(aws),
			Breaker:  breaker,
		})
	}

	rt := local.NewRuntime(p, local.Options{
		TickInterval: cfg.TickInterval,
		Runner:       executor.NewProcessRunner(cfg.LocalCommand),
		Counter:      counter,
		Notifier:     notifier,
		Metrics:      metricsSink,
	})

	handler := api.NewHandler(p, p, rt.Monitor(), local.ErrNotFound).WithInvoker(rt.Executor())
	for name, c := range healthChecks {
		handler = handler.WithHealthChecker(name, c)
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}
	go func() {
		log.Info().Str("component", "http").Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Str("component", "http").Err(err).Msg("server error")
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Info().Str("component", "metrics").Str("addr", cfg.MetricsAddr).Msg("listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Str("component", "metrics").Err(err).Msg("server error")
			}
		}()
	}

	rt.Start()
	log.Info().Str("component", "serve").Int("jobs", len(graph.Jobs)).Dur("tick", cfg.TickInterval).
		Str("http", cfg.HTTPAddr).Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		log.Info().Str("component", "serve").Str("signal", received.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Str("component", "serve").Msg("context cancelled, shutting down")
	}

	// Scheduler, then executor drain, then monitor.
	rt.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Str("component", "http").Err(err).Msg("shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Str("component", "metrics").Err(err).Msg("shutdown error")
		}
	}

	log.Info().Str("component", "serve").Msg("stopped")
	return nil
}
