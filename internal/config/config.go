package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the process-wide configuration shared by every job. It is read
// once at startup and treated as immutable afterwards.
type Config struct {
	StackName string `json:"stack_name"`
	JobsFile  string `json:"jobs_file"`
	EnvFile   string `json:"env_file,omitempty"`

	// Pass-through settings for the sync executable.
	SyncInterval      string `json:"sync_interval"`
	Debug             bool   `json:"debug"`
	NordigenSecretID  string `json:"nordigen_secret_id"`
	NordigenSecretKey string `json:"nordigen_secret_key"`
	PayeeStrip        string `json:"payee_strip,omitempty"`
	PayeeSource       string `json:"payee_source,omitempty"`
	YNABBudgetID      string `json:"ynab_budget_id"`
	YNABCleared       string `json:"ynab_cleared"`
	YNABToken         string `json:"ynab_token"`

	StateBucketName   string `json:"state_bucket_name"`
	NotificationEmail string `json:"notification_email"`

	// Compute unit shape.
	CodeZip            string        `json:"code_zip"`
	RoleARN            string        `json:"role_arn,omitempty"`
	FunctionTimeout    time.Duration `json:"-"`
	FunctionTimeoutStr string        `json:"function_timeout"`
	FunctionMemoryMB   int           `json:"function_memory_mb"`

	AWSRegion string `json:"aws_region,omitempty"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`

	MetricsTextfile string `json:"metrics_textfile,omitempty"`
	MetricsAddr     string `json:"metrics_addr,omitempty"`

	// Local runtime.
	LocalCommand       string        `json:"local_command"`
	HTTPAddr           string        `json:"http_addr"`
	RedisAddr          string        `json:"redis_addr,omitempty"`
	AlertWebhookURL    string        `json:"alert_webhook_url,omitempty"`
	AlertWebhookSecret string        `json:"alert_webhook_secret,omitempty"`
	TickInterval       time.Duration `json:"-"`
	TickIntervalStr    string        `json:"tick_interval"`
	ShutdownTimeout    time.Duration `json:"-"`
	ShutdownTimeoutStr string        `json:"shutdown_timeout"`
}

// Load reads ENV_FILE (when set) into the environment without overriding
// variables that are already present, then reads configuration from the
// environment with defaults.
func Load() Config {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Warn().Str("component", "config").Err(err).Str("path", path).Msg("failed to load env file")
		}
	}
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup, applying defaults.
func LoadFrom(lookup func(string) (string, bool)) Config {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		StackName:          get("STACK_NAME"),
		JobsFile:           get("JOBS_FILE"),
		EnvFile:            get("ENV_FILE"),
		SyncInterval:       get("YNABBER_INTERVAL"),
		NordigenSecretID:   get("NORDIGEN_SECRET_ID"),
		NordigenSecretKey:  get("NORDIGEN_SECRET_KEY"),
		PayeeStrip:         get("NORDIGEN_PAYEE_STRIP"),
		PayeeSource:        get("NORDIGEN_PAYEE_SOURCE"),
		YNABBudgetID:       get("YNAB_BUDGETID"),
		YNABCleared:        get("YNAB_CLEARED"),
		YNABToken:          get("YNAB_TOKEN"),
		StateBucketName:    get("STATE_BUCKET_NAME"),
		NotificationEmail:  get("NOTIFICATION_EMAIL"),
		CodeZip:            get("LAMBDA_CODE_ZIP"),
		RoleARN:            get("LAMBDA_ROLE_ARN"),
		FunctionTimeoutStr: get("FUNCTION_TIMEOUT"),
		AWSRegion:          get("AWS_REGION"),
		LogFormat:          get("LOG_FORMAT"),
		LogLevel:           get("LOG_LEVEL"),
		MetricsTextfile:    get("METRICS_TEXTFILE"),
		MetricsAddr:        get("METRICS_ADDR"),
		LocalCommand:       get("LOCAL_COMMAND"),
		HTTPAddr:           get("HTTP_ADDR"),
		RedisAddr:          get("REDIS_ADDR"),
		AlertWebhookURL:    get("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: get("ALERT_WEBHOOK_SECRET"),
		TickIntervalStr:    get("TICK_INTERVAL"),
		ShutdownTimeoutStr: get("SHUTDOWN_TIMEOUT"),
	}

	if debugStr := get("YNABBER_DEBUG"); debugStr != "" {
		if b, err := strconv.ParseBool(debugStr); err == nil {
			cfg.Debug = b
		} else {
			log.Warn().Str("component", "config").Str("value", debugStr).Msg("invalid YNABBER_DEBUG, using default false")
		}
	}

	if memStr := get("FUNCTION_MEMORY_MB"); memStr != "" {
		if n, err := strconv.Atoi(memStr); err == nil {
			cfg.FunctionMemoryMB = n
		} else {
			log.Warn().Str("component", "config").Str("value", memStr).Msg("invalid FUNCTION_MEMORY_MB, using default 128")
		}
	}
	if cfg.FunctionMemoryMB == 0 {
		cfg.FunctionMemoryMB = 128
	}

	if cfg.StackName == "" {
		cfg.StackName = "ynab-sync"
	}
	if cfg.JobsFile == "" {
		cfg.JobsFile = "jobs.yaml"
	}
	if cfg.SyncInterval == "" {
		// The executable runs once per invocation; the trigger owns the cadence.
		cfg.SyncInterval = "0"
	}
	if cfg.CodeZip == "" {
		cfg.CodeZip = "lambdas/bootstrap.zip"
	}
	if cfg.FunctionTimeoutStr == "" {
		cfg.FunctionTimeoutStr = "5m"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LocalCommand == "" {
		cfg.LocalCommand = "lambdas/bootstrap"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.ShutdownTimeoutStr == "" {
		cfg.ShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.FunctionTimeoutStr); err == nil {
		cfg.FunctionTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.ShutdownTimeoutStr); err == nil {
		cfg.ShutdownTimeout = d
	}

	return cfg
}

// Environment returns the variables every compute unit receives, before
// job-specific values and overrides are applied.
func (c Config) Environment() map[string]string {
	return map[string]string{
		"YNABBER_INTERVAL":                  c.SyncInterval,
		"YNABBER_DEBUG":                     strconv.FormatBool(c.Debug),
		"NORDIGEN_SECRET_ID":                c.NordigenSecretID,
		"NORDIGEN_SECRET_KEY":               c.NordigenSecretKey,
		"NORDIGEN_PAYEE_STRIP":              c.PayeeStrip,
		"NORDIGEN_PAYEE_SOURCE":             c.PayeeSource,
		"NORDIGEN_REQUISITION_FILE_STORAGE": "s3",
		"NORDIGEN_S3_BUCKET_NAME":           c.StateBucketName,
		"YNAB_BUDGETID":                     c.YNABBudgetID,
		"YNAB_CLEARED":                      c.YNABCleared,
		"YNAB_TOKEN":                        c.YNABToken,
	}
}

// Values is an immutable snapshot of configuration key/value pairs used to
// resolve per-job keys.
type Values map[string]string

// Snapshot captures the current environment.
func Snapshot() Values {
	v := make(Values)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			v[key] = value
		}
	}
	return v
}

// Lookup returns the trimmed value for key. Blank values count as missing.
func (v Values) Lookup(key string) (string, bool) {
	value, ok := v[key]
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.NordigenSecretID = maskSecret(c.NordigenSecretID)
	masked.NordigenSecretKey = maskSecret(c.NordigenSecretKey)
	masked.YNABToken = maskSecret(c.YNABToken)
	masked.AlertWebhookSecret = maskSecret(c.AlertWebhookSecret)
	masked.RedisAddr = maskURL(c.RedisAddr)
	return json.MarshalIndent(masked, "", "  ")
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// maskURL masks credentials in a redis:// style address, preserving the scheme.
func maskURL(s string) string {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || !strings.Contains(rest, "@") {
		return s
	}
	return scheme + "://***"
}
