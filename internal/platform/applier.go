package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// MetricsSink records platform calls. Methods must not block.
type MetricsSink interface {
	ResourceApplied(kind string, duration time.Duration, err error)
}

// Applier walks a graph in dependency order: shared resources first, then
// for each job the bucket grant, function, rule, invoke permission and
// alarm. The first rejected resource aborts the run.
type Applier struct {
	platform Platform
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func NewApplier(p Platform) *Applier {
	return &Applier{platform: p, clock: time.Now}
}

// WithMetrics attaches a metrics sink to the applier.
func (a *Applier) WithMetrics(sink MetricsSink) *Applier {
	a.metrics = sink
	return a
}

// Apply provisions every resource in g and returns the number applied.
func (a *Applier) Apply(ctx context.Context, g domain.Graph) (int, error) {
	applied := 0
	step := func(kind domain.ResourceKind, name string, fn func(context.Context) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := a.clock()
		err := fn(ctx)
		if a.metrics != nil {
			a.metrics.ResourceApplied(string(kind), a.clock().Sub(start), err)
		}
		if err != nil {
			return &ProvisioningError{Kind: kind, Resource: name, Err: err}
		}
		applied++
		log.Info().Str("component", "applier").Str("kind", string(kind)).Str("resource", name).Msg("applied")
		return nil
	}

	if err := step(domain.KindBucket, g.Bucket.Name, func(ctx context.Context) error {
		return a.platform.EnsureBucket(ctx, g.Bucket)
	}); err != nil {
		return applied, err
	}
	if err := step(domain.KindTopic, g.Topic.Name, func(ctx context.Context) error {
		return a.platform.EnsureTopic(ctx, g.Topic)
	}); err != nil {
		return applied, err
	}
	if sub := g.Subscription; sub != nil {
		if err := step(domain.KindSubscription, sub.Endpoint, func(ctx context.Context) error {
			return a.platform.EnsureEmailSubscription(ctx, *sub)
		}); err != nil {
			return applied, err
		}
	}

	for _, job := range g.Jobs {
		job := job
		steps := []struct {
			kind domain.ResourceKind
			name string
			fn   func(context.Context) error
		}{
			{domain.KindBucketGrant, job.Function.Name, func(ctx context.Context) error {
				return a.platform.GrantBucketRead(ctx, job.Grant)
			}},
			{domain.KindFunction, job.Function.Name, func(ctx context.Context) error {
				return a.platform.EnsureFunction(ctx, job.Function)
			}},
			{domain.KindRule, job.Rule.Name, func(ctx context.Context) error {
				return a.platform.EnsureRule(ctx, job.Rule)
			}},
			{domain.KindPermission, job.Rule.Name, func(ctx context.Context) error {
				return a.platform.GrantInvoke(ctx, job.Permission)
			}},
			{domain.KindAlarm, job.Alarm.Name, func(ctx context.Context) error {
				return a.platform.EnsureAlarm(ctx, job.Alarm)
			}},
		}
		for _, s := range steps {
			if err := step(s.kind, s.name, s.fn); err != nil {
				return applied, err
			}
		}
	}

	return applied, nil
}
