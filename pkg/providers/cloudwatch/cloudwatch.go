// Package cloudwatch integrates AWS CloudWatch alarms with SNS-based push
// delivery.
package cloudwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/signalbridge/signalbridge/pkg/metrics"
	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
)

// ProviderType is the registry discriminator.
const ProviderType = "cloudwatch"

const scopeProbeLimit = 10 * time.Second

var authFields = []models.AuthField{
	{Name: "access_key", Required: true, Sensitive: true, Description: "AWS access key"},
	{Name: "access_key_secret", Required: true, Sensitive: true, Description: "AWS access key secret"},
	{Name: "region", Required: true, Description: "AWS region"},
	{
		Name:        "session_token",
		Sensitive:   true,
		Description: "AWS Session Token",
		Hint:        "For temporary credentials. Push delivery stops once they expire.",
	},
	{
		Name:        "sns_topic",
		Description: "SNS topic [ARN or name] added to alarms that have no SNS action yet",
	},
}

var scopes = []models.ProviderScope{
	{
		Name:             "alarms_read",
		Description:      "Describe CloudWatch alarms",
		Mandatory:        true,
		DocumentationURL: "https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/permissions-reference-cw.html",
		Alias:            "DescribeAlarms",
	},
	{
		Name:        "sts_identity",
		Description: "Resolve the caller identity",
		Mandatory:   true,
		Alias:       "GetCallerIdentity",
	},
	{
		Name:                "sns_manage",
		Description:         "List and subscribe SNS topics",
		MandatoryForWebhook: true,
		Alias:               "SNS Manage",
	},
}

// CloudWatchAPI is the subset of the CloudWatch client the provider uses.
type CloudWatchAPI interface {
	DescribeAlarms(ctx context.Context, params *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
}

// SNSAPI is the subset of the SNS client the provider uses.
type SNSAPI interface {
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// STSAPI is the subset of the STS client the provider uses.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Provider is a configured CloudWatch integration.
type Provider struct {
	id       string
	region   string
	snsTopic string

	cw  CloudWatchAPI
	sns SNSAPI
	sts STSAPI

	logger *slog.Logger
}

// New validates cfg, builds static-credential AWS clients, and constructs
// the provider.
func New(id string, cfg models.ProviderConfig) (*Provider, error) {
	auth, err := providers.ValidateAuth(ProviderType, authFields, cfg)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewStaticCredentialsProvider(
		auth["access_key"], auth["access_key_secret"], auth["session_token"])
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(auth["region"]),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	p := newWithClients(id, auth["region"], auth["sns_topic"],
		cloudwatch.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg))
	return p, nil
}

func newWithClients(id, region, snsTopic string, cw CloudWatchAPI, snsClient SNSAPI, stsClient STSAPI) *Provider {
	return &Provider{
		id:       id,
		region:   region,
		snsTopic: snsTopic,
		cw:       cw,
		sns:      snsClient,
		sts:      stsClient,
		logger:   slog.Default().With("component", "cloudwatch", "provider_id", id),
	}
}

// Definition is the registry entry for CloudWatch.
func Definition() providers.Definition {
	return providers.Definition{
		Type:        ProviderType,
		DisplayName: "AWS CloudWatch",
		Description: "CloudWatch alarms with SNS push delivery.",
		AuthFields:  authFields,
		Scopes:      scopes,
		New: func(id string, cfg models.ProviderConfig) (providers.Provider, error) {
			return New(id, cfg)
		},
		FormatAlert:        FormatAlert,
		AlertSchema:        AlertSchema,
		WebhookDescription: "Subscribe the ingestion endpoint to the SNS topic behind every alarm.",
		Capabilities: models.ProviderCapabilities{
			AlertConfiguration: true,
			Webhook:            true,
		},
	}
}

func (p *Provider) Type() string { return ProviderType }

// ValidateScopes probes the declared scopes in parallel.
func (p *Provider) ValidateScopes(ctx context.Context) models.ScopeResults {
	p.logger.Info("validating scopes")
	results := providers.RunScopeChecks(ctx, scopes, p.checkScope, scopeProbeLimit)
	for name, res := range results {
		if !res.Confirmed {
			metrics.ScopeCheckFailures.WithLabelValues(ProviderType, name).Inc()
		}
	}
	return results
}

func (p *Provider) checkScope(ctx context.Context, scope models.ProviderScope) error {
	switch scope.Name {
	case "alarms_read":
		_, err := p.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
			MaxRecords: aws.Int32(1),
		})
		return err
	case "sts_identity":
		_, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	case "sns_manage":
		_, err := p.sns.ListTopics(ctx, &sns.ListTopicsInput{})
		return err
	default:
		return fmt.Errorf("unknown scope %q", scope.Name)
	}
}

// GetAlertsConfiguration lists alarms in vendor shape, optionally narrowed
// to one alarm name.
func (p *Provider) GetAlertsConfiguration(ctx context.Context, alertID string) ([]json.RawMessage, error) {
	input := &cloudwatch.DescribeAlarmsInput{}
	if alertID != "" {
		input.AlarmNames = []string{alertID}
	}
	resp, err := p.cw.DescribeAlarms(ctx, input)
	if err != nil {
		metrics.VendorCallErrors.WithLabelValues(ProviderType, "describe alarms").Inc()
		return nil, fmt.Errorf("describe alarms: %w", err)
	}

	out := make([]json.RawMessage, 0, len(resp.MetricAlarms)+len(resp.CompositeAlarms))
	for _, alarm := range resp.MetricAlarms {
		raw, err := json.Marshal(alarm)
		if err != nil {
			return nil, fmt.Errorf("encode alarm: %w", err)
		}
		out = append(out, raw)
	}
	for _, alarm := range resp.CompositeAlarms {
		raw, err := json.Marshal(alarm)
		if err != nil {
			return nil, fmt.Errorf("encode alarm: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (p *Provider) accountID(ctx context.Context) (string, error) {
	identity, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(identity.Account), nil
}

// topicARN expands a bare topic name into a full ARN for this account.
func (p *Provider) topicARN(ctx context.Context) (string, error) {
	if p.snsTopic == "" {
		return "", nil
	}
	if strings.HasPrefix(p.snsTopic, "arn:aws:sns") {
		return p.snsTopic, nil
	}
	account, err := p.accountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", p.region, account, p.snsTopic), nil
}
