package cloudwatch

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/signalbridge/signalbridge/pkg/providers"
)

// SetupWebhook subscribes the callback URL to the SNS topic behind every
// alarm. Alarms without an SNS action get the configured topic attached
// first. Per-alarm failures are logged and skipped; one subscription per
// alarm, one per topic overall.
func (p *Provider) SetupWebhook(ctx context.Context, req providers.WebhookRequest) error {
	p.logger.Info("setting up webhook", "url", req.CallbackURL)

	resp, err := p.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{})
	if err != nil {
		return err
	}

	callback, err := url.Parse(req.CallbackURL)
	if err != nil {
		return err
	}
	hostname := callback.Hostname()
	protocol := callback.Scheme
	// SNS carries no header slot, so the key travels in the URL userinfo.
	callback.User = url.UserPassword("api_key", req.APIKey)
	endpoint := callback.String()

	subscribed := map[string]struct{}{}
	for _, alarm := range resp.MetricAlarms {
		topics := snsActions(alarm.AlarmActions)
		if len(topics) == 0 {
			topic, ok := p.attachTopic(ctx, alarm)
			if !ok {
				continue
			}
			topics = []string{topic}
		}
		p.subscribeAlarm(ctx, aws.ToString(alarm.AlarmName), topics, hostname, protocol, endpoint, subscribed)
	}
	for _, alarm := range resp.CompositeAlarms {
		topics := snsActions(alarm.AlarmActions)
		if len(topics) == 0 {
			p.logger.Warn("composite alarm has no SNS action, skipping", "alarm", aws.ToString(alarm.AlarmName))
			continue
		}
		p.subscribeAlarm(ctx, aws.ToString(alarm.AlarmName), topics, hostname, protocol, endpoint, subscribed)
	}

	p.logger.Info("webhook setup completed")
	return nil
}

func snsActions(actions []string) []string {
	var topics []string
	for _, action := range actions {
		if strings.HasPrefix(action, "arn:aws:sns") {
			topics = append(topics, action)
		}
	}
	return topics
}

// attachTopic adds the configured SNS topic as an alarm action by
// re-putting the alarm with only its mutable keys.
func (p *Provider) attachTopic(ctx context.Context, alarm types.MetricAlarm) (string, bool) {
	name := aws.ToString(alarm.AlarmName)
	if p.snsTopic == "" {
		p.logger.Warn("alarm has no SNS action and no topic is configured, skipping", "alarm", name)
		return "", false
	}
	topic, err := p.topicARN(ctx)
	if err != nil {
		p.logger.Error("could not resolve SNS topic ARN", "alarm", name, "error", err)
		return "", false
	}

	p.logger.Warn("alarm has no SNS action, adding one", "alarm", name, "topic", topic)
	input := &cloudwatch.PutMetricAlarmInput{
		AlarmName:                          alarm.AlarmName,
		AlarmDescription:                   alarm.AlarmDescription,
		ActionsEnabled:                     alarm.ActionsEnabled,
		OKActions:                          alarm.OKActions,
		AlarmActions:                       append(alarm.AlarmActions, topic),
		InsufficientDataActions:            alarm.InsufficientDataActions,
		MetricName:                         alarm.MetricName,
		Namespace:                          alarm.Namespace,
		Statistic:                          alarm.Statistic,
		ExtendedStatistic:                  alarm.ExtendedStatistic,
		Dimensions:                         alarm.Dimensions,
		Period:                             alarm.Period,
		Unit:                               alarm.Unit,
		EvaluationPeriods:                  alarm.EvaluationPeriods,
		DatapointsToAlarm:                  alarm.DatapointsToAlarm,
		Threshold:                          alarm.Threshold,
		ComparisonOperator:                 alarm.ComparisonOperator,
		TreatMissingData:                   alarm.TreatMissingData,
		EvaluateLowSampleCountPercentile:   alarm.EvaluateLowSampleCountPercentile,
		ThresholdMetricId:                  alarm.ThresholdMetricId,
		Metrics:                            alarm.Metrics,
	}
	if _, err := p.cw.PutMetricAlarm(ctx, input); err != nil {
		p.logger.Error("could not add SNS action to alarm", "alarm", name, "error", err)
		return "", false
	}
	p.logger.Info("SNS action added to alarm", "alarm", name)
	return topic, true
}

// subscribeAlarm subscribes the endpoint to the first usable topic of one
// alarm, unless an active subscription for the callback host exists.
func (p *Provider) subscribeAlarm(ctx context.Context, alarmName string, topics []string, hostname, protocol, endpoint string, subscribed map[string]struct{}) {
	for _, topic := range topics {
		if _, done := subscribed[topic]; done {
			p.logger.Info("already subscribed to topic in this run", "topic", topic)
			return
		}

		subs, err := p.sns.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn: aws.String(topic),
		})
		if err != nil {
			p.logger.Warn("could not list topic subscriptions, skipping", "topic", topic, "error", err)
			continue
		}

		alreadySubscribed := false
		for _, sub := range subs.Subscriptions {
			if strings.Contains(aws.ToString(sub.Endpoint), hostname) &&
				aws.ToString(sub.SubscriptionArn) != "PendingConfirmation" {
				alreadySubscribed = true
				break
			}
		}
		if alreadySubscribed {
			p.logger.Info("already subscribed to topic", "topic", topic)
			return
		}

		p.logger.Info("subscribing to topic", "alarm", alarmName, "topic", topic)
		_, err = p.sns.Subscribe(ctx, &sns.SubscribeInput{
			TopicArn: aws.String(topic),
			Protocol: aws.String(protocol),
			Endpoint: aws.String(endpoint),
		})
		if err != nil {
			p.logger.Error("could not subscribe to topic", "topic", topic, "error", err)
			continue
		}
		subscribed[topic] = struct{}{}
		// One topic per alarm is enough, more would duplicate deliveries.
		return
	}
}
