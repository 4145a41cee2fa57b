package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/ynab-sync/internal/analytics"
	"github.com/djlord-it/ynab-sync/internal/config"
	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/platform"
	"github.com/djlord-it/ynab-sync/internal/provisioner"
)

func testGraph(t *testing.T) domain.Graph {
	t.Helper()
	cfg := config.LoadFrom(func(key string) (string, bool) {
		v, ok := map[string]string{
			"STATE_BUCKET_NAME":  "ynab-sync-requisitions",
			"NOTIFICATION_EMAIL": "ops@example.com",
		}[key]
		return v, ok
	})
	values := config.Values{
		"OTP_BANK_ID":        "OTP_OTPVHUHB",
		"OTP_ACCOUNT_MAP":    `{"a":"b"}`,
		"NORDEA_BANK_ID":     "NORDEA_NDEAFIHH",
		"NORDEA_ACCOUNT_MAP": `{"c":"d"}`,
	}
	jobs := []domain.JobDefinition{
		{Name: "otp", Enabled: true, IdentitySourceKey: "OTP_BANK_ID", AccountMapSourceKey: "OTP_ACCOUNT_MAP", Schedule: domain.Schedule{CallsPerDay: 10}},
		{Name: "nordea", Enabled: true, IdentitySourceKey: "NORDEA_BANK_ID", AccountMapSourceKey: "NORDEA_ACCOUNT_MAP", Schedule: domain.Schedule{CallsPerDay: 4}},
	}
	graph, err := provisioner.New(cfg, values).Render(jobs)
	require.NoError(t, err)
	return graph
}

func applied(t *testing.T) *Platform {
	t.Helper()
	p := NewPlatform()
	_, err := platform.NewApplier(p).Apply(context.Background(), testGraph(t))
	require.NoError(t, err)
	return p
}

// failingRunner fails for the named functions and succeeds otherwise.
type failingRunner struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
}

func (r *failingRunner) Run(_ context.Context, fn domain.Function, _ domain.TriggerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[fn.Name]++
	if r.fail[fn.Name] {
		return errors.New("exit status 1")
	}
	return nil
}

type collectingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *collectingNotifier) Notify(_ context.Context, a domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func TestPlatform_RegistersGraph(t *testing.T) {
	p := applied(t)
	ctx := context.Background()

	rules, err := p.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "ynab-sync-nordea-schedule", rules[0].Name)
	assert.Equal(t, 480, rules[0].RateMinutes)
	assert.Equal(t, 160, rules[1].RateMinutes)

	fn, err := p.Function(ctx, "ynab-sync-otp")
	require.NoError(t, err)
	assert.Equal(t, "OTP_OTPVHUHB", fn.Environment[provisioner.EnvBankID])

	assert.Len(t, p.Alarms(), 2)
}

func TestPlatform_ApplyTwiceIsStable(t *testing.T) {
	p := applied(t)
	_, err := platform.NewApplier(p).Apply(context.Background(), testGraph(t))
	require.NoError(t, err)

	fns, err := p.Functions(context.Background())
	require.NoError(t, err)
	assert.Len(t, fns, 2)
	assert.Len(t, p.Alarms(), 2)
}

func TestPlatform_RuleWithoutPermissionDoesNotFire(t *testing.T) {
	p := NewPlatform()
	ctx := context.Background()
	require.NoError(t, p.EnsureFunction(ctx, domain.Function{Name: "fn"}))
	require.NoError(t, p.EnsureRule(ctx, domain.Rule{Name: "r", Target: "fn", RateMinutes: 5}))

	rules, err := p.Rules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, p.GrantInvoke(ctx, domain.InvokePermission{Rule: "r", Function: "fn"}))
	rules, err = p.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestPlatform_RejectsDanglingReferences(t *testing.T) {
	p := NewPlatform()
	ctx := context.Background()

	assert.ErrorIs(t, p.EnsureRule(ctx, domain.Rule{Name: "r", Target: "missing"}), ErrNotFound)
	assert.ErrorIs(t, p.EnsureAlarm(ctx, domain.Alarm{Name: "a", Actions: []string{"missing"}}), ErrNotFound)
	assert.ErrorIs(t, p.GrantBucketRead(ctx, domain.BucketGrant{Function: "fn", Bucket: "missing"}), ErrNotFound)
	_, err := p.Function(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlatform_ExecutionHistory(t *testing.T) {
	p := applied(t)
	p.maxHistory = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.RecordExecution(ctx, domain.Execution{
			ID:          uuid.New(),
			Function:    "ynab-sync-otp",
			ScheduledAt: time.Date(2026, 1, 1, i, 0, 0, 0, time.UTC),
		}))
	}

	execs, err := p.ListExecutions(ctx, "ynab-sync-otp", 10, 0)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, 4, execs[0].ScheduledAt.Hour())
	assert.Equal(t, 2, execs[2].ScheduledAt.Hour())

	execs, err = p.ListExecutions(ctx, "ynab-sync-otp", 1, 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 3, execs[0].ScheduledAt.Hour())

	assert.ErrorIs(t, p.RecordExecution(ctx, domain.Execution{Function: "missing"}), ErrNotFound)
}

// TestRuntime_FailedRunAlertsOnce covers the whole path: a failed run of one
// job puts its alarm into ALARM with exactly one alert, and the healthy job
// stays quiet.
func TestRuntime_FailedRunAlertsOnce(t *testing.T) {
	p := applied(t)
	runner := &failingRunner{fail: map[string]bool{"ynab-sync-nordea": true}}
	notifier := &collectingNotifier{}

	rt := NewRuntime(p, Options{
		TickInterval: time.Minute,
		Runner:       runner,
		Counter:      analytics.NewMemoryCounter(),
		Notifier:     notifier,
	})

	ctx := context.Background()
	window := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, fn := range []string{"ynab-sync-otp", "ynab-sync-nordea"} {
		_, err := rt.Executor().Execute(ctx, domain.TriggerEvent{
			ExecutionID: uuid.New(),
			Rule:        fn + "-schedule",
			Function:    fn,
			ScheduledAt: window,
		})
		require.NoError(t, err)
	}

	// The executor stamps errors with wall-clock time; evaluate the window
	// that contains now.
	now := time.Now().UTC()
	alerts, err := rt.Monitor().Evaluate(ctx, now.Truncate(5*time.Minute).Add(5*time.Minute))
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, "ynab-sync-nordea-errors", alerts[0].Alarm)
	assert.Equal(t, "ynab-sync-alerts", alerts[0].Topic)
	assert.Len(t, notifier.alerts, 1)

	assert.Equal(t, 1, runner.calls["ynab-sync-nordea"], "failed run must not be retried")

	execs, err := p.ListExecutions(ctx, "ynab-sync-nordea", 10, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecutionStatusFailed, execs[0].Status)
}

func TestRuntime_StartStop(t *testing.T) {
	p := applied(t)
	rt := NewRuntime(p, Options{
		TickInterval:     10 * time.Millisecond,
		EvaluateInterval: 10 * time.Millisecond,
		Runner:           &failingRunner{},
		Counter:          analytics.NewMemoryCounter(),
	})

	rt.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		rt.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
