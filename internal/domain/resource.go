package domain

import "time"

// ResourceKind identifies a resource description in a Graph.
type ResourceKind string

const (
	KindBucket       ResourceKind = "bucket"
	KindTopic        ResourceKind = "topic"
	KindSubscription ResourceKind = "subscription"
	KindFunction     ResourceKind = "function"
	KindBucketGrant  ResourceKind = "bucket_grant"
	KindRule         ResourceKind = "rule"
	KindPermission   ResourceKind = "invoke_permission"
	KindAlarm        ResourceKind = "alarm"
)

// Bucket is the shared persistence store. It is referenced by every job
// and never owned by one.
type Bucket struct {
	Name           string `json:"name"`
	Versioned      bool   `json:"versioned"`
	RetainOnDelete bool   `json:"retain_on_delete"`
}

// Topic is the shared notification channel alarms publish to.
type Topic struct {
	Name string `json:"name"`
}

type EmailSubscription struct {
	Topic    string `json:"topic"`
	Endpoint string `json:"endpoint"`
}

// Function is a compute unit running the packaged external executable.
type Function struct {
	Name string `json:"name"`
	Job  string `json:"job"`

	CodePath     string `json:"code_path"`
	Handler      string `json:"handler"`
	Runtime      string `json:"runtime"`
	Architecture string `json:"architecture"`
	RoleARN      string `json:"role_arn,omitempty"`
	MemoryMB     int    `json:"memory_mb"`

	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`

	Environment map[string]string `json:"environment"`
}

// BucketGrant gives a function's execution role access to the shared bucket.
type BucketGrant struct {
	Function string   `json:"function"`
	Role     string   `json:"role,omitempty"`
	Bucket   string   `json:"bucket"`
	Actions  []string `json:"actions"`
}

// Rule is a time-based trigger bound to exactly one function.
type Rule struct {
	Name string `json:"name"`

	// Expression is the platform form: rate(N minutes) or cron(m h dom mon dow year).
	Expression string `json:"expression"`

	// RateMinutes or Cron carry the same cadence for runtimes that do not
	// understand the platform form.
	RateMinutes int    `json:"rate_minutes,omitempty"`
	Cron        string `json:"cron,omitempty"`

	Target string `json:"target"`
}

// InvokePermission authorizes a rule to invoke a function.
type InvokePermission struct {
	Rule     string `json:"rule"`
	Function string `json:"function"`
}

// Alarm watches a function's error metric.
type Alarm struct {
	Name     string `json:"name"`
	Function string `json:"function"`

	Namespace         string        `json:"namespace"`
	Metric            string        `json:"metric"`
	Statistic         string        `json:"statistic"`
	Period            time.Duration `json:"period"`
	EvaluationPeriods int           `json:"evaluation_periods"`
	Threshold         float64       `json:"threshold"`
	Comparison        string        `json:"comparison"`
	TreatMissingData  string        `json:"treat_missing_data"`

	// Actions are the topics notified on transition into alarm.
	Actions []string `json:"actions"`
}

// Breaching reports whether the summed metric value breaches the alarm.
func (a Alarm) Breaching(sum float64) bool {
	switch a.Comparison {
	case ComparisonGreaterThanOrEqual:
		return sum >= a.Threshold
	case ComparisonLessThan:
		return sum < a.Threshold
	case ComparisonLessThanOrEqual:
		return sum <= a.Threshold
	default:
		return sum > a.Threshold
	}
}

const (
	ComparisonGreaterThan        = "GreaterThanThreshold"
	ComparisonGreaterThanOrEqual = "GreaterThanOrEqualToThreshold"
	ComparisonLessThan           = "LessThanThreshold"
	ComparisonLessThanOrEqual    = "LessThanOrEqualToThreshold"
)

// JobResources is everything rendered for one enabled job.
type JobResources struct {
	Job        string           `json:"job"`
	Function   Function         `json:"function"`
	Grant      BucketGrant      `json:"grant"`
	Rule       Rule             `json:"rule"`
	Permission InvokePermission `json:"permission"`
	Alarm      Alarm            `json:"alarm"`
}

// Graph is the full resource description set for one provisioning run.
type Graph struct {
	Bucket       Bucket             `json:"bucket"`
	Topic        Topic              `json:"topic"`
	Subscription *EmailSubscription `json:"subscription,omitempty"`
	Jobs         []JobResources     `json:"jobs"`
}

// Counts returns the number of resources per kind.
func (g Graph) Counts() map[ResourceKind]int {
	counts := map[ResourceKind]int{
		KindBucket: 1,
		KindTopic:  1,
	}
	if g.Subscription != nil {
		counts[KindSubscription] = 1
	}
	for range g.Jobs {
		counts[KindFunction]++
		counts[KindBucketGrant]++
		counts[KindRule]++
		counts[KindPermission]++
		counts[KindAlarm]++
	}
	return counts
}
