// Package local hosts a rendered resource graph in-process: functions run
// as child processes, rules are fired by the scheduler and alarms are
// evaluated by the monitor.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// DefaultHistory is the number of executions kept per function.
const DefaultHistory = 100

var ErrNotFound = errors.New("not found")

type Platform struct {
	mu sync.RWMutex

	bucket        domain.Bucket
	topics        map[string]domain.Topic
	subscriptions map[string]domain.EmailSubscription
	functions     map[string]domain.Function
	grants        map[string]domain.BucketGrant
	rules         map[string]domain.Rule
	permissions   map[string]domain.InvokePermission
	alarms        map[string]domain.Alarm

	history    map[string][]domain.Execution // newest last
	maxHistory int
}

func NewPlatform() *Platform {
	return &Platform{
		topics:        make(map[string]domain.Topic),
		subscriptions: make(map[string]domain.EmailSubscription),
		functions:     make(map[string]domain.Function),
		grants:        make(map[string]domain.BucketGrant),
		rules:         make(map[string]domain.Rule),
		permissions:   make(map[string]domain.InvokePermission),
		alarms:        make(map[string]domain.Alarm),
		history:       make(map[string][]domain.Execution),
		maxHistory:    DefaultHistory,
	}
}

func (p *Platform) EnsureBucket(_ context.Context, b domain.Bucket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bucket = b
	log.Debug().Str("component", "local").Str("bucket", b.Name).Msg("bucket registered")
	return nil
}

func (p *Platform) EnsureTopic(_ context.Context, t domain.Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[t.Name] = t
	return nil
}

func (p *Platform) EnsureEmailSubscription(_ context.Context, s domain.EmailSubscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.topics[s.Topic]; !ok {
		return fmt.Errorf("topic %q: %w", s.Topic, ErrNotFound)
	}
	p.subscriptions[s.Topic+"/"+s.Endpoint] = s
	return nil
}

func (p *Platform) EnsureFunction(_ context.Context, fn domain.Function) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.functions[fn.Name] = fn
	return nil
}

func (p *Platform) GrantBucketRead(_ context.Context, g domain.BucketGrant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bucket.Name != g.Bucket {
		return fmt.Errorf("bucket %q: %w", g.Bucket, ErrNotFound)
	}
	p.grants[g.Function] = g
	return nil
}

func (p *Platform) EnsureRule(_ context.Context, r domain.Rule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.functions[r.Target]; !ok {
		return fmt.Errorf("target function %q: %w", r.Target, ErrNotFound)
	}
	p.rules[r.Name] = r
	return nil
}

func (p *Platform) GrantInvoke(_ context.Context, perm domain.InvokePermission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissions[perm.Rule] = perm
	return nil
}

func (p *Platform) EnsureAlarm(_ context.Context, a domain.Alarm) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range a.Actions {
		if _, ok := p.topics[topic]; !ok {
			return fmt.Errorf("alarm action topic %q: %w", topic, ErrNotFound)
		}
	}
	p.alarms[a.Name] = a
	return nil
}

// Rules returns the rules that may fire: those whose invoke permission has
// been granted.
func (p *Platform) Rules(_ context.Context) ([]domain.Rule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rules := make([]domain.Rule, 0, len(p.rules))
	for name, r := range p.rules {
		if _, ok := p.permissions[name]; !ok {
			continue
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

func (p *Platform) Function(_ context.Context, name string) (domain.Function, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.functions[name]
	if !ok {
		return domain.Function{}, fmt.Errorf("function %q: %w", name, ErrNotFound)
	}
	return fn, nil
}

// Functions returns every registered function sorted by name.
func (p *Platform) Functions(_ context.Context) ([]domain.Function, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fns := make([]domain.Function, 0, len(p.functions))
	for _, fn := range p.functions {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	return fns, nil
}

// Alarms returns every registered alarm sorted by name.
func (p *Platform) Alarms() []domain.Alarm {
	p.mu.RLock()
	defer p.mu.RUnlock()
	alarms := make([]domain.Alarm, 0, len(p.alarms))
	for _, a := range p.alarms {
		alarms = append(alarms, a)
	}
	sort.Slice(alarms, func(i, j int) bool { return alarms[i].Name < alarms[j].Name })
	return alarms
}

func (p *Platform) RecordExecution(_ context.Context, exec domain.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.functions[exec.Function]; !ok {
		return fmt.Errorf("function %q: %w", exec.Function, ErrNotFound)
	}
	h := append(p.history[exec.Function], exec)
	if len(h) > p.maxHistory {
		h = h[len(h)-p.maxHistory:]
	}
	p.history[exec.Function] = h
	return nil
}

// ListExecutions returns a function's executions newest first.
func (p *Platform) ListExecutions(_ context.Context, function string, limit, offset int) ([]domain.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.functions[function]; !ok {
		return nil, fmt.Errorf("function %q: %w", function, ErrNotFound)
	}
	h := p.history[function]
	out := make([]domain.Execution, 0, limit)
	for i := len(h) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
