package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() Config {
	return LoadFrom(lookupFrom(map[string]string{
		"STATE_BUCKET_NAME":  "requisitions",
		"NOTIFICATION_EMAIL": "ops@example.com",
	}))
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := validConfig()
	cfg.StateBucketName = ""
	cfg.NotificationEmail = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing required keys")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", err)
	}
	for _, field := range []string{"STATE_BUCKET_NAME", "NOTIFICATION_EMAIL"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %q", field, err.Error())
		}
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad email", func(c *Config) { c.NotificationEmail = "ops" }, "NOTIFICATION_EMAIL"},
		{"unparseable timeout", func(c *Config) { c.FunctionTimeoutStr = "soon" }, "invalid duration"},
		{"zero timeout", func(c *Config) { c.FunctionTimeoutStr = "0s" }, "must be positive"},
		{"timeout above platform max", func(c *Config) { c.FunctionTimeoutStr = "16m" }, "must not exceed"},
		{"negative tick", func(c *Config) { c.TickIntervalStr = "-1s" }, "TICK_INTERVAL"},
		{"tiny memory", func(c *Config) { c.FunctionMemoryMB = 64 }, "FUNCTION_MEMORY_MB"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateApply_RequiresRole(t *testing.T) {
	cfg := validConfig()

	err := ValidateApply(cfg)
	if err == nil || !strings.Contains(err.Error(), "LAMBDA_ROLE_ARN") {
		t.Fatalf("expected LAMBDA_ROLE_ARN error, got %v", err)
	}

	cfg.RoleARN = "role/ynab"
	if err := ValidateApply(cfg); err == nil || !strings.Contains(err.Error(), "not an ARN") {
		t.Errorf("expected ARN format error, got %v", err)
	}

	cfg.RoleARN = "arn:aws:iam::123456789012:role/ynab-sync"
	if err := ValidateApply(cfg); err != nil {
		t.Errorf("expected valid apply config, got %v", err)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	single := ValidationErrors{{Field: "A", Message: "required"}}
	if single.Error() != "A: required" {
		t.Errorf("single error = %q", single.Error())
	}

	multi := ValidationErrors{{Field: "A", Message: "required"}, {Field: "B", Message: "bad"}}
	if !strings.HasPrefix(multi.Error(), "2 validation errors:") {
		t.Errorf("multi error = %q", multi.Error())
	}
}
