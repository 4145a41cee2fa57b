// Package provisioner renders job definitions into the resource graph that
// runs them: one function, one trigger and one error alarm per enabled job,
// sharing a bucket and a notification topic.
package provisioner

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/config"
	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/schedule"
)

// Environment keys that carry per-job values into the sync executable.
const (
	EnvBankID     = "NORDIGEN_BANKID"
	EnvAccountMap = "YNAB_ACCOUNTMAP"
)

const (
	handler      = "bootstrap"
	runtime      = "provided.al2023"
	architecture = "arm64"

	alarmPeriod = 5 * time.Minute
)

var bucketReadActions = []string{"s3:GetObject", "s3:ListBucket"}

// Job names become part of every resource name.
var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func checkName(name string) string {
	switch {
	case name == "":
		return "required"
	case !jobNamePattern.MatchString(name):
		return "may only contain letters, digits, '-' and '_'"
	}
	return ""
}

// Resolver looks up configuration values referenced by job definitions.
type Resolver interface {
	Lookup(key string) (string, bool)
}

// MetricsSink records render outcomes. Methods must not block.
type MetricsSink interface {
	JobRendered(outcome string)
	ResourcesRendered(kind string, n int)
}

// Render outcomes.
const (
	OutcomeRendered = "rendered"
	OutcomeDisabled = "disabled"
	OutcomeFailed   = "failed"
)

type Provisioner struct {
	cfg      config.Config
	resolver Resolver
	metrics  MetricsSink // optional, nil = disabled
}

// New returns a provisioner bound to one immutable shared configuration.
func New(cfg config.Config, resolver Resolver) *Provisioner {
	return &Provisioner{cfg: cfg, resolver: resolver}
}

// WithMetrics attaches a metrics sink to the provisioner.
func (p *Provisioner) WithMetrics(sink MetricsSink) *Provisioner {
	p.metrics = sink
	return p
}

// Render produces the resource graph for jobs. Jobs are processed in list
// order and disabled jobs are dropped before anything is derived from them.
//
// A job whose configuration cannot be resolved is left out of the graph and
// reported as a *ConfigurationError; the returned error joins one per failed
// job. The graph still contains every job that rendered.
func (p *Provisioner) Render(jobs []domain.JobDefinition) (domain.Graph, error) {
	topic := domain.Topic{Name: p.cfg.StackName + "-alerts"}
	graph := domain.Graph{
		Bucket: domain.Bucket{
			Name:           p.cfg.StateBucketName,
			Versioned:      true,
			RetainOnDelete: true,
		},
		Topic: topic,
		Jobs:  []domain.JobResources{},
	}
	if p.cfg.NotificationEmail != "" {
		graph.Subscription = &domain.EmailSubscription{
			Topic:    topic.Name,
			Endpoint: p.cfg.NotificationEmail,
		}
	}

	var errs []error
	seen := make(map[string]bool)

	for _, job := range jobs {
		if !job.Enabled {
			p.recordJob(OutcomeDisabled)
			log.Debug().Str("component", "provisioner").Str("job", job.Name).Msg("skipping disabled job")
			continue
		}

		if reason := checkName(job.Name); reason != "" {
			errs = append(errs, &ConfigurationError{Job: job.Name, Key: "name", Reason: reason})
			p.recordJob(OutcomeFailed)
			continue
		}
		if seen[job.Name] {
			errs = append(errs, &ConfigurationError{Job: job.Name, Key: "name", Reason: "duplicate job name"})
			p.recordJob(OutcomeFailed)
			continue
		}
		seen[job.Name] = true

		res, err := p.renderJob(job, graph.Bucket, topic)
		if err != nil {
			errs = append(errs, err)
			p.recordJob(OutcomeFailed)
			log.Error().Str("component", "provisioner").Str("job", job.Name).Err(err).Msg("job not rendered")
			continue
		}

		graph.Jobs = append(graph.Jobs, res)
		p.recordJob(OutcomeRendered)
		log.Info().Str("component", "provisioner").Str("job", job.Name).
			Str("function", res.Function.Name).Str("schedule", res.Rule.Expression).
			Msg("rendered job")
	}

	if p.metrics != nil {
		for kind, n := range graph.Counts() {
			p.metrics.ResourcesRendered(string(kind), n)
		}
	}

	return graph, errors.Join(errs...)
}

func (p *Provisioner) renderJob(job domain.JobDefinition, bucket domain.Bucket, topic domain.Topic) (domain.JobResources, error) {
	configErr := func(key, reason string) error {
		return &ConfigurationError{Job: job.Name, Key: key, Reason: reason}
	}

	if job.IdentitySourceKey == "" {
		return domain.JobResources{}, configErr("identity_key", "required")
	}
	if job.AccountMapSourceKey == "" {
		return domain.JobResources{}, configErr("account_map_key", "required")
	}

	bankID, ok := p.resolver.Lookup(job.IdentitySourceKey)
	if !ok {
		return domain.JobResources{}, configErr(job.IdentitySourceKey, "missing institution identifier")
	}
	accountMap, ok := p.resolver.Lookup(job.AccountMapSourceKey)
	if !ok {
		return domain.JobResources{}, configErr(job.AccountMapSourceKey, "missing account map")
	}

	var quota int
	if key := job.Schedule.CallsPerDayKey; key != "" {
		raw, ok := p.resolver.Lookup(key)
		if !ok {
			return domain.JobResources{}, configErr(key, "missing calls per day")
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.JobResources{}, configErr(key, fmt.Sprintf("invalid calls per day %q", raw))
		}
		quota = n
	}

	cadence, err := schedule.Resolve(job.Schedule, quota)
	if err != nil {
		key := "schedule"
		if job.Schedule.CallsPerDayKey != "" {
			key = job.Schedule.CallsPerDayKey
		}
		return domain.JobResources{}, configErr(key, err.Error())
	}
	expression, err := cadence.Expression()
	if err != nil {
		return domain.JobResources{}, configErr("schedule", err.Error())
	}

	env := p.cfg.Environment()
	for key, value := range job.Overrides {
		if key == EnvBankID || key == EnvAccountMap {
			return domain.JobResources{}, configErr("overrides."+key, "reserved for the job's identity and account map")
		}
		env[key] = value
	}
	env[EnvBankID] = bankID
	env[EnvAccountMap] = accountMap

	fn := domain.Function{
		Name:          p.cfg.StackName + "-" + job.Name,
		Job:           job.Name,
		CodePath:      p.cfg.CodeZip,
		Handler:       handler,
		Runtime:       runtime,
		Architecture:  architecture,
		RoleARN:       p.cfg.RoleARN,
		MemoryMB:      p.cfg.FunctionMemoryMB,
		Timeout:       p.cfg.FunctionTimeout,
		RetryAttempts: 0,
		Environment:   maps.Clone(env),
	}

	rule := domain.Rule{
		Name:        fn.Name + "-schedule",
		Expression:  expression,
		RateMinutes: cadence.RateMinutes,
		Cron:        cadence.Cron,
		Target:      fn.Name,
	}

	return domain.JobResources{
		Job:      job.Name,
		Function: fn,
		Grant: domain.BucketGrant{
			Function: fn.Name,
			Role:     fn.RoleARN,
			Bucket:   bucket.Name,
			Actions:  append([]string(nil), bucketReadActions...),
		},
		Rule: rule,
		Permission: domain.InvokePermission{
			Rule:     rule.Name,
			Function: fn.Name,
		},
		Alarm: domain.Alarm{
			Name:              fn.Name + "-errors",
			Function:          fn.Name,
			Namespace:         "AWS/Lambda",
			Metric:            "Errors",
			Statistic:         "Sum",
			Period:            alarmPeriod,
			EvaluationPeriods: 1,
			Threshold:         0,
			Comparison:        domain.ComparisonGreaterThan,
			TreatMissingData:  "notBreaching",
			Actions:           []string{topic.Name},
		},
	}, nil
}

func (p *Provisioner) recordJob(outcome string) {
	if p.metrics != nil {
		p.metrics.JobRendered(outcome)
	}
}
