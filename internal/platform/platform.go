// Package platform applies a rendered resource graph to a hosting platform.
package platform

import (
	"context"
	"fmt"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// Platform is the set of resource calls a hosting platform exposes. Every
// call is create-or-update: applying the same description twice must leave
// the platform unchanged.
type Platform interface {
	EnsureBucket(ctx context.Context, b domain.Bucket) error
	EnsureTopic(ctx context.Context, t domain.Topic) error
	EnsureEmailSubscription(ctx context.Context, s domain.EmailSubscription) error
	EnsureFunction(ctx context.Context, fn domain.Function) error
	GrantBucketRead(ctx context.Context, g domain.BucketGrant) error
	EnsureRule(ctx context.Context, r domain.Rule) error
	GrantInvoke(ctx context.Context, p domain.InvokePermission) error
	EnsureAlarm(ctx context.Context, a domain.Alarm) error
}

// ProvisioningError reports a resource description the platform rejected.
// It is fatal to the run.
type ProvisioningError struct {
	Kind     domain.ResourceKind
	Resource string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s %q: %v", e.Kind, e.Resource, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
