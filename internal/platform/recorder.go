package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// Call is one platform call captured by a Recorder.
type Call struct {
	Kind     domain.ResourceKind
	Resource string
}

// Recorder is an in-memory Platform. It keeps the latest description of
// every resource, so applying a graph twice leaves it unchanged, and can be
// told to reject a resource to exercise failure paths.
type Recorder struct {
	mu sync.Mutex

	Calls         []Call
	Buckets       map[string]domain.Bucket
	Topics        map[string]domain.Topic
	Subscriptions map[string]domain.EmailSubscription
	Functions     map[string]domain.Function
	Grants        map[string]domain.BucketGrant
	Rules         map[string]domain.Rule
	Permissions   map[string]domain.InvokePermission
	Alarms        map[string]domain.Alarm

	// Reject maps resource names to the error returned when they are applied.
	Reject map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{
		Buckets:       make(map[string]domain.Bucket),
		Topics:        make(map[string]domain.Topic),
		Subscriptions: make(map[string]domain.EmailSubscription),
		Functions:     make(map[string]domain.Function),
		Grants:        make(map[string]domain.BucketGrant),
		Rules:         make(map[string]domain.Rule),
		Permissions:   make(map[string]domain.InvokePermission),
		Alarms:        make(map[string]domain.Alarm),
		Reject:        make(map[string]error),
	}
}

func (r *Recorder) record(kind domain.ResourceKind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Call{Kind: kind, Resource: name})
	return r.Reject[name]
}

func (r *Recorder) EnsureBucket(ctx context.Context, b domain.Bucket) error {
	if err := r.record(domain.KindBucket, b.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Buckets[b.Name] = b
	return nil
}

func (r *Recorder) EnsureTopic(ctx context.Context, t domain.Topic) error {
	if err := r.record(domain.KindTopic, t.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Topics[t.Name] = t
	return nil
}

func (r *Recorder) EnsureEmailSubscription(ctx context.Context, s domain.EmailSubscription) error {
	if err := r.record(domain.KindSubscription, s.Endpoint); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Topics[s.Topic]; !ok {
		return fmt.Errorf("topic %q does not exist", s.Topic)
	}
	r.Subscriptions[s.Topic+"/"+s.Endpoint] = s
	return nil
}

func (r *Recorder) EnsureFunction(ctx context.Context, fn domain.Function) error {
	if err := r.record(domain.KindFunction, fn.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Functions[fn.Name] = fn
	return nil
}

func (r *Recorder) GrantBucketRead(ctx context.Context, g domain.BucketGrant) error {
	if err := r.record(domain.KindBucketGrant, g.Function); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Buckets[g.Bucket]; !ok {
		return fmt.Errorf("bucket %q does not exist", g.Bucket)
	}
	r.Grants[g.Function] = g
	return nil
}

func (r *Recorder) EnsureRule(ctx context.Context, rule domain.Rule) error {
	if err := r.record(domain.KindRule, rule.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Functions[rule.Target]; !ok {
		return fmt.Errorf("target function %q does not exist", rule.Target)
	}
	r.Rules[rule.Name] = rule
	return nil
}

func (r *Recorder) GrantInvoke(ctx context.Context, p domain.InvokePermission) error {
	if err := r.record(domain.KindPermission, p.Rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Permissions[p.Rule] = p
	return nil
}

func (r *Recorder) EnsureAlarm(ctx context.Context, a domain.Alarm) error {
	if err := r.record(domain.KindAlarm, a.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range a.Actions {
		if _, ok := r.Topics[topic]; !ok {
			return fmt.Errorf("alarm action topic %q does not exist", topic)
		}
	}
	r.Alarms[a.Name] = a
	return nil
}
