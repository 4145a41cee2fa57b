// Package awsplatform provisions resource graphs on AWS: S3 for the shared
// bucket, SNS for alerts, Lambda for functions, EventBridge for rules and
// CloudWatch for alarms.
package awsplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

const (
	eventsPrincipal = "events.amazonaws.com"
	targetID        = "function"

	// Upper bound for a function to settle after create or update.
	functionSettleTimeout = 2 * time.Minute
)

type Platform struct {
	clients Clients
	region  string

	mu        sync.Mutex
	topicARNs map[string]string
}

// New loads the default AWS credential chain and returns a platform bound
// to region. An empty region falls back to the chain's region.
func New(ctx context.Context, region string) (*Platform, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClients(Clients{
		S3:          s3.NewFromConfig(cfg),
		SNS:         sns.NewFromConfig(cfg),
		Lambda:      lambda.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
		CloudWatch:  cloudwatch.NewFromConfig(cfg),
		IAM:         iam.NewFromConfig(cfg),
	}, cfg.Region), nil
}

func NewWithClients(c Clients, region string) *Platform {
	return &Platform{clients: c, region: region, topicARNs: make(map[string]string)}
}

func (p *Platform) EnsureBucket(ctx context.Context, b domain.Bucket) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(b.Name)}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "" && p.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	if _, err := p.clients.S3.CreateBucket(ctx, in); err != nil && !hasCode(err, "BucketAlreadyOwnedByYou") {
		return fmt.Errorf("create bucket: %w", err)
	}

	if b.Versioned {
		_, err := p.clients.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(b.Name),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return fmt.Errorf("enable versioning: %w", err)
		}
	}

	// Buckets are never deleted by this tool, which is what RetainOnDelete asks for.
	log.Debug().Str("component", "aws").Str("bucket", b.Name).Bool("retain", b.RetainOnDelete).Msg("bucket ensured")
	return nil
}

func (p *Platform) EnsureTopic(ctx context.Context, t domain.Topic) error {
	_, err := p.TopicARN(ctx, t.Name)
	return err
}

// TopicARN creates the topic if needed and returns its ARN. CreateTopic is
// idempotent for an unchanged name.
func (p *Platform) TopicARN(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	arn, ok := p.topicARNs[name]
	p.mu.Unlock()
	if ok {
		return arn, nil
	}

	out, err := p.clients.SNS.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create topic: %w", err)
	}
	arn = aws.ToString(out.TopicArn)

	p.mu.Lock()
	p.topicARNs[name] = arn
	p.mu.Unlock()
	return arn, nil
}

func (p *Platform) EnsureEmailSubscription(ctx context.Context, s domain.EmailSubscription) error {
	arn, err := p.TopicARN(ctx, s.Topic)
	if err != nil {
		return err
	}
	_, err = p.clients.SNS.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(arn),
		Protocol: aws.String("email"),
		Endpoint: aws.String(s.Endpoint),
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (p *Platform) EnsureFunction(ctx context.Context, fn domain.Function) error {
	code, err := os.ReadFile(fn.CodePath)
	if err != nil {
		return fmt.Errorf("read function code: %w", err)
	}

	env := &lambdatypes.Environment{Variables: fn.Environment}
	arch := []lambdatypes.Architecture{lambdatypes.Architecture(fn.Architecture)}
	memory := aws.Int32(int32(fn.MemoryMB))
	timeout := aws.Int32(int32(fn.Timeout / time.Second))

	_, err = p.clients.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(fn.Name)})
	switch {
	case isNotFound(err):
		_, err = p.clients.Lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
			FunctionName:  aws.String(fn.Name),
			Role:          aws.String(fn.RoleARN),
			Code:          &lambdatypes.FunctionCode{ZipFile: code},
			Handler:       aws.String(fn.Handler),
			Runtime:       lambdatypes.Runtime(fn.Runtime),
			Architectures: arch,
			MemorySize:    memory,
			Timeout:       timeout,
			Environment:   env,
		})
		if err != nil {
			return fmt.Errorf("create function: %w", err)
		}
		if err := p.waitActive(ctx, fn.Name); err != nil {
			return err
		}

	case err != nil:
		return fmt.Errorf("get function: %w", err)

	default:
		_, err = p.clients.Lambda.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
			FunctionName:  aws.String(fn.Name),
			ZipFile:       code,
			Architectures: arch,
		})
		if err != nil {
			return fmt.Errorf("update function code: %w", err)
		}
		if err := p.waitUpdated(ctx, fn.Name); err != nil {
			return err
		}
		_, err = p.clients.Lambda.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(fn.Name),
			Role:         aws.String(fn.RoleARN),
			Handler:      aws.String(fn.Handler),
			Runtime:      lambdatypes.Runtime(fn.Runtime),
			MemorySize:   memory,
			Timeout:      timeout,
			Environment:  env,
		})
		if err != nil {
			return fmt.Errorf("update function configuration: %w", err)
		}
		if err := p.waitUpdated(ctx, fn.Name); err != nil {
			return err
		}
	}

	_, err = p.clients.Lambda.PutFunctionEventInvokeConfig(ctx, &lambda.PutFunctionEventInvokeConfigInput{
		FunctionName:         aws.String(fn.Name),
		MaximumRetryAttempts: aws.Int32(int32(fn.RetryAttempts)),
	})
	if err != nil {
		return fmt.Errorf("set retry attempts: %w", err)
	}
	return nil
}

func (p *Platform) waitActive(ctx context.Context, name string) error {
	w := lambda.NewFunctionActiveV2Waiter(p.clients.Lambda)
	if err := w.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, functionSettleTimeout); err != nil {
		return fmt.Errorf("wait for function: %w", err)
	}
	return nil
}

func (p *Platform) waitUpdated(ctx context.Context, name string) error {
	w := lambda.NewFunctionUpdatedV2Waiter(p.clients.Lambda)
	if err := w.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)}, functionSettleTimeout); err != nil {
		return fmt.Errorf("wait for function update: %w", err)
	}
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

// GrantBucketRead attaches an inline read policy for the bucket to the
// function's execution role.
func (p *Platform) GrantBucketRead(ctx context.Context, g domain.BucketGrant) error {
	role := roleName(g.Role)
	if role == "" {
		return fmt.Errorf("no execution role for %q", g.Function)
	}

	doc, err := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: g.Actions,
			Resource: []string{
				"arn:aws:s3:::" + g.Bucket,
				"arn:aws:s3:::" + g.Bucket + "/*",
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}

	_, err = p.clients.IAM.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(g.Function + "-bucket-read"),
		PolicyDocument: aws.String(string(doc)),
	})
	if err != nil {
		return fmt.Errorf("put role policy: %w", err)
	}
	return nil
}

func (p *Platform) EnsureRule(ctx context.Context, r domain.Rule) error {
	_, err := p.clients.EventBridge.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(r.Name),
		ScheduleExpression: aws.String(r.Expression),
		State:              ebtypes.RuleStateEnabled,
	})
	if err != nil {
		return fmt.Errorf("put rule: %w", err)
	}

	fn, err := p.clients.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(r.Target)})
	if err != nil {
		return fmt.Errorf("get target function: %w", err)
	}
	if fn.Configuration == nil {
		return fmt.Errorf("target function %q has no configuration", r.Target)
	}

	out, err := p.clients.EventBridge.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(r.Name),
		Targets: []ebtypes.Target{{
			Id:          aws.String(targetID),
			Arn:         fn.Configuration.FunctionArn,
			RetryPolicy: &ebtypes.RetryPolicy{MaximumRetryAttempts: aws.Int32(0)},
		}},
	})
	if err != nil {
		return fmt.Errorf("put targets: %w", err)
	}
	if out.FailedEntryCount > 0 && len(out.FailedEntries) > 0 {
		e := out.FailedEntries[0]
		return fmt.Errorf("put targets: %s: %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}

func (p *Platform) GrantInvoke(ctx context.Context, perm domain.InvokePermission) error {
	rule, err := p.clients.EventBridge.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: aws.String(perm.Rule)})
	if err != nil {
		return fmt.Errorf("describe rule: %w", err)
	}

	_, err = p.clients.Lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(perm.Function),
		StatementId:  aws.String(perm.Rule + "-invoke"),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String(eventsPrincipal),
		SourceArn:    rule.Arn,
	})
	if err != nil && !isConflict(err) {
		return fmt.Errorf("add permission: %w", err)
	}
	return nil
}

func (p *Platform) EnsureAlarm(ctx context.Context, a domain.Alarm) error {
	actions := make([]string, 0, len(a.Actions))
	for _, topic := range a.Actions {
		arn, err := p.TopicARN(ctx, topic)
		if err != nil {
			return err
		}
		actions = append(actions, arn)
	}

	_, err := p.clients.CloudWatch.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(a.Name),
		Namespace:          aws.String(a.Namespace),
		MetricName:         aws.String(a.Metric),
		Statistic:          cwtypes.Statistic(a.Statistic),
		Period:             aws.Int32(int32(a.Period / time.Second)),
		EvaluationPeriods:  aws.Int32(int32(a.EvaluationPeriods)),
		Threshold:          aws.Float64(a.Threshold),
		ComparisonOperator: cwtypes.ComparisonOperator(a.Comparison),
		TreatMissingData:   aws.String(a.TreatMissingData),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("FunctionName"),
			Value: aws.String(a.Function),
		}},
		AlarmActions: actions,
	})
	if err != nil {
		return fmt.Errorf("put metric alarm: %w", err)
	}
	return nil
}

// Publish sends an alert to a topic. It backs the SNS alert notifier.
func (p *Platform) Publish(ctx context.Context, topic, subject, message string) error {
	arn, err := p.TopicARN(ctx, topic)
	if err != nil {
		return err
	}
	_, err = p.clients.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func hasCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

func isNotFound(err error) bool {
	var nf *lambdatypes.ResourceNotFoundException
	return errors.As(err, &nf)
}

func isConflict(err error) bool {
	var c *lambdatypes.ResourceConflictException
	return errors.As(err, &c)
}

// roleName extracts the role name from arn:aws:iam::123:role/path/name.
func roleName(arn string) string {
	if !strings.HasPrefix(arn, "arn:") {
		return ""
	}
	i := strings.LastIndex(arn, "/")
	if i < 0 || i == len(arn)-1 {
		return ""
	}
	return arn[i+1:]
}
