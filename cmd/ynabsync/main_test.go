package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

const testJobs = `
jobs:
  - name: otp
    enabled: true
    identity_key: OTP_BANK_ID
    account_map_key: OTP_ACCOUNT_MAP
    schedule:
      calls_per_day_key: OTP_CALLS_PER_DAY
  - name: nordea
    enabled: true
    identity_key: NORDEA_BANK_ID
    account_map_key: NORDEA_ACCOUNT_MAP
    schedule:
      calls_per_day: 4
  - name: wise
    enabled: false
`

// setupEnv points the commands at a temporary job list with every key the
// jobs reference set.
func setupEnv(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testJobs), 0o600))

	t.Setenv("ENV_FILE", "")
	t.Setenv("JOBS_FILE", path)
	t.Setenv("STATE_BUCKET_NAME", "ynab-sync-requisitions")
	t.Setenv("NOTIFICATION_EMAIL", "me@example.com")
	t.Setenv("YNAB_TOKEN", "token")
	t.Setenv("OTP_BANK_ID", "OTP_OTPVHUHB")
	t.Setenv("OTP_ACCOUNT_MAP", `{"HU01":"ynab-otp"}`)
	t.Setenv("OTP_CALLS_PER_DAY", "10")
	t.Setenv("NORDEA_BANK_ID", "NORDEA_NDEAFIHH")
	t.Setenv("NORDEA_ACCOUNT_MAP", `{"FI01":"ynab-nordea"}`)
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRender_PrintsGraph(t *testing.T) {
	setupEnv(t)

	out, err := execute("render")
	require.NoError(t, err)

	var graph domain.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &graph))
	require.Len(t, graph.Jobs, 2)

	assert.Equal(t, "ynab-sync-requisitions", graph.Bucket.Name)
	assert.Equal(t, "rate(160 minutes)", graph.Jobs[0].Rule.Expression)
	assert.Equal(t, "rate(480 minutes)", graph.Jobs[1].Rule.Expression)
	assert.Equal(t, "NORDEA_NDEAFIHH", graph.Jobs[1].Function.Environment["NORDIGEN_BANKID"])
	require.NotNil(t, graph.Subscription)
	assert.Equal(t, "me@example.com", graph.Subscription.Endpoint)
}

func TestRender_MissingKeyIsConfigError(t *testing.T) {
	setupEnv(t)
	t.Setenv("OTP_CALLS_PER_DAY", "")

	_, err := execute("render")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, err.Error(), "OTP_CALLS_PER_DAY")
}

func TestRender_AllowPartial(t *testing.T) {
	setupEnv(t)
	t.Setenv("OTP_CALLS_PER_DAY", "1")

	out, err := execute("render", "--allow-partial")
	require.NoError(t, err)

	var graph domain.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &graph))
	require.Len(t, graph.Jobs, 1)
	assert.Equal(t, "nordea", graph.Jobs[0].Job)
}

func TestRender_WritesMetricsTextfile(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "ynabsync.prom")
	t.Setenv("METRICS_TEXTFILE", path)

	_, err := execute("render")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ynabsync_provisioner_jobs_total{outcome="rendered"} 2`)
	assert.Contains(t, string(data), `ynabsync_provisioner_jobs_total{outcome="disabled"} 1`)
}

func TestValidate(t *testing.T) {
	setupEnv(t)

	out, err := execute("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid (2 job(s) enabled)")
}

func TestValidate_InvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("STATE_BUCKET_NAME", "")

	_, err := execute("validate")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, err.Error(), "STATE_BUCKET_NAME")
}

func TestApply_RequiresRole(t *testing.T) {
	setupEnv(t)
	t.Setenv("LAMBDA_ROLE_ARN", "")

	_, err := execute("apply")
	require.Error(t, err)
	assert.Equal(t, exitInvalidConfig, exitCode(err))
	assert.Contains(t, err.Error(), "LAMBDA_ROLE_ARN")
}

func TestSchedule_JSON(t *testing.T) {
	setupEnv(t)

	out, err := execute("schedule", "--json", "-n", "3", "--from", "2026-03-01T00:00:00Z")
	require.NoError(t, err)

	var got []upcomingFirings
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)

	nordea := got[1]
	assert.Equal(t, "ynab-sync-nordea", nordea.Function)
	require.Len(t, nordea.Next, 3)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, nordea.Next[0].Equal(start.Add(8*time.Hour)), "got %v", nordea.Next[0])
	assert.True(t, nordea.Next[2].Equal(start.Add(24*time.Hour)), "got %v", nordea.Next[2])
}

func TestSchedule_Text(t *testing.T) {
	setupEnv(t)

	out, err := execute("schedule", "-n", "1", "--from", "2026-03-01T00:00:00Z")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "nordea\trate(480 minutes)\t2026-03-01T08:00:00Z", lines[1])
}

func TestSchedule_BadFrom(t *testing.T) {
	setupEnv(t)

	_, err := execute("schedule", "--from", "yesterday")
	assert.Equal(t, exitInvalidConfig, exitCode(err))
}

func TestConfig_MasksSecrets(t *testing.T) {
	setupEnv(t)

	out, err := execute("config")
	require.NoError(t, err)
	assert.Contains(t, out, `"ynab_token": "***"`)
	assert.NotContains(t, out, `"token"`)
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Equal(t, "ynabsync version dev (commit: unknown)\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitRuntimeError, exitCode(errors.New("boom")))
	assert.Equal(t, exitInvalidConfig, exitCode(invalidConfig(errors.New("bad"))))
	assert.Equal(t, exitRuntimeError, exitCode(runtimeError(errors.New("bad"))))
}
