package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

func testGraph(jobs ...string) domain.Graph {
	g := domain.Graph{
		Bucket:       domain.Bucket{Name: "state", Versioned: true, RetainOnDelete: true},
		Topic:        domain.Topic{Name: "stack-alerts"},
		Subscription: &domain.EmailSubscription{Topic: "stack-alerts", Endpoint: "ops@example.com"},
	}
	for _, job := range jobs {
		fn := "stack-" + job
		g.Jobs = append(g.Jobs, domain.JobResources{
			Job:        job,
			Function:   domain.Function{Name: fn, Job: job, Timeout: 5 * time.Minute},
			Grant:      domain.BucketGrant{Function: fn, Bucket: "state", Actions: []string{"s3:GetObject"}},
			Rule:       domain.Rule{Name: fn + "-schedule", Expression: "rate(160 minutes)", RateMinutes: 160, Target: fn},
			Permission: domain.InvokePermission{Rule: fn + "-schedule", Function: fn},
			Alarm: domain.Alarm{
				Name:       fn + "-errors",
				Function:   fn,
				Period:     5 * time.Minute,
				Comparison: domain.ComparisonGreaterThan,
				Actions:    []string{"stack-alerts"},
			},
		})
	}
	return g
}

type fakeMetrics struct {
	applied map[string]int
	failed  int
}

func (f *fakeMetrics) ResourceApplied(kind string, _ time.Duration, err error) {
	if f.applied == nil {
		f.applied = make(map[string]int)
	}
	f.applied[kind]++
	if err != nil {
		f.failed++
	}
}

func TestApplier_Order(t *testing.T) {
	rec := NewRecorder()
	n, err := NewApplier(rec).Apply(context.Background(), testGraph("otp"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	var kinds []domain.ResourceKind
	for _, c := range rec.Calls {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []domain.ResourceKind{
		domain.KindBucket,
		domain.KindTopic,
		domain.KindSubscription,
		domain.KindBucketGrant,
		domain.KindFunction,
		domain.KindRule,
		domain.KindPermission,
		domain.KindAlarm,
	}, kinds)
}

func TestApplier_Idempotent(t *testing.T) {
	rec := NewRecorder()
	applier := NewApplier(rec)
	g := testGraph("otp", "nordea")

	_, err := applier.Apply(context.Background(), g)
	require.NoError(t, err)
	functions := len(rec.Functions)
	rules := len(rec.Rules)
	alarms := len(rec.Alarms)

	_, err = applier.Apply(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, functions, len(rec.Functions))
	assert.Equal(t, rules, len(rec.Rules))
	assert.Equal(t, alarms, len(rec.Alarms))
	assert.Len(t, rec.Buckets, 1)
	assert.Len(t, rec.Topics, 1)
	assert.Len(t, rec.Subscriptions, 1)
}

func TestApplier_ZeroJobs(t *testing.T) {
	rec := NewRecorder()
	n, err := NewApplier(rec).Apply(context.Background(), testGraph())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Len(t, rec.Buckets, 1)
	assert.Len(t, rec.Topics, 1)
	assert.Empty(t, rec.Functions)
	assert.Empty(t, rec.Rules)
	assert.Empty(t, rec.Alarms)
}

func TestApplier_RejectedResourceAborts(t *testing.T) {
	rec := NewRecorder()
	rejected := errors.New("invalid memory size")
	rec.Reject["stack-nordea"] = rejected

	n, err := NewApplier(rec).Apply(context.Background(), testGraph("otp", "nordea", "danske"))
	require.Error(t, err)

	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.KindBucketGrant, perr.Kind)
	assert.Equal(t, "stack-nordea", perr.Resource)
	assert.ErrorIs(t, err, rejected)

	// shared resources and the first job only
	assert.Equal(t, 8, n)
	assert.Contains(t, rec.Functions, "stack-otp")
	assert.NotContains(t, rec.Functions, "stack-danske")
}

func TestApplier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := NewRecorder()
	n, err := NewApplier(rec).Apply(ctx, testGraph("otp"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, rec.Calls)
}

func TestApplier_Metrics(t *testing.T) {
	rec := NewRecorder()
	rec.Reject["stack-otp-errors"] = errors.New("boom")
	m := &fakeMetrics{}

	_, err := NewApplier(rec).WithMetrics(m).Apply(context.Background(), testGraph("otp"))
	require.Error(t, err)

	assert.Equal(t, 1, m.applied[string(domain.KindAlarm)])
	assert.Equal(t, 1, m.applied[string(domain.KindFunction)])
	assert.Equal(t, 1, m.failed)
}

func TestRecorder_RuleRequiresFunction(t *testing.T) {
	rec := NewRecorder()
	err := rec.EnsureRule(context.Background(), domain.Rule{Name: "r", Target: "missing"})
	assert.Error(t, err)
}

func TestProvisioningError_Message(t *testing.T) {
	err := &ProvisioningError{Kind: domain.KindFunction, Resource: "stack-otp", Err: errors.New("denied")}
	assert.Equal(t, `provision function "stack-otp": denied`, err.Error())
}
