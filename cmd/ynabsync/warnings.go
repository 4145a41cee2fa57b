package main

import (
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/config"
)

// logConfigWarnings logs settings that are valid but weaken the local
// runtime's alerting.
func logConfigWarnings(cfg config.Config) {
	if cfg.RedisAddr == "" {
		log.Warn().Str("component", "config").
			Msg("REDIS_ADDR not set: error counts are lost on restart and an error just before it will not alert")
	}
	if cfg.AlertWebhookURL != "" && cfg.AlertWebhookSecret == "" {
		log.Warn().Str("component", "config").
			Msg("ALERT_WEBHOOK_URL set without ALERT_WEBHOOK_SECRET: webhook alerts are unsigned")
	}
	if cfg.AlertWebhookURL == "" {
		log.Warn().Str("component", "config").
			Msg("ALERT_WEBHOOK_URL not set: alerts are only logged unless --notify-topic is used")
	}
	if cfg.MetricsAddr == "" {
		log.Info().Str("component", "config").Msg("METRICS_ADDR not set; metrics endpoint disabled")
	}
}
