package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

const maxFunctionTimeout = 15 * time.Minute

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.StateBucketName == "" {
		errs = append(errs, ValidationError{Field: "STATE_BUCKET_NAME", Message: "required"})
	}

	if cfg.NotificationEmail == "" {
		errs = append(errs, ValidationError{Field: "NOTIFICATION_EMAIL", Message: "required"})
	} else if !strings.Contains(cfg.NotificationEmail, "@") {
		errs = append(errs, ValidationError{
			Field:   "NOTIFICATION_EMAIL",
			Message: fmt.Sprintf("not an email address: %q", cfg.NotificationEmail),
		})
	}

	errs = append(errs, validateDuration("FUNCTION_TIMEOUT", cfg.FunctionTimeoutStr, maxFunctionTimeout)...)
	errs = append(errs, validateDuration("TICK_INTERVAL", cfg.TickIntervalStr, 0)...)
	errs = append(errs, validateDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeoutStr, 0)...)

	if cfg.FunctionMemoryMB < 128 || cfg.FunctionMemoryMB > 10240 {
		errs = append(errs, ValidationError{
			Field:   "FUNCTION_MEMORY_MB",
			Message: fmt.Sprintf("must be between 128 and 10240, got %d", cfg.FunctionMemoryMB),
		})
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "human" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'human', got %q", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateApply extends Validate with the settings only needed to create
// resources on the hosting platform.
func ValidateApply(cfg Config) error {
	var errs ValidationErrors
	if err := Validate(cfg); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	if cfg.RoleARN == "" {
		errs = append(errs, ValidationError{Field: "LAMBDA_ROLE_ARN", Message: "required"})
	} else if !strings.HasPrefix(cfg.RoleARN, "arn:") {
		errs = append(errs, ValidationError{
			Field:   "LAMBDA_ROLE_ARN",
			Message: fmt.Sprintf("not an ARN: %q", cfg.RoleARN),
		})
	}
	if cfg.CodeZip == "" {
		errs = append(errs, ValidationError{Field: "LAMBDA_CODE_ZIP", Message: "required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateDuration checks that s is a positive duration no longer than max.
// A zero max means unbounded.
func validateDuration(field, s string, max time.Duration) ValidationErrors {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	if max > 0 && d > max {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("must not exceed %s", max)}}
	}
	return nil
}
