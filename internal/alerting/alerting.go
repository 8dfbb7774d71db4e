// Package alerting delivers drift alerts, to SNS when a topic is configured
// and to the log otherwise.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog/log"

	"inventory-forecast/internal/ml"
)

// Publisher delivers a drift alert.
type Publisher interface {
	Publish(ctx context.Context, alert *ml.DriftAlert) error
}

// snsAPI is the part of *sns.Client the publisher calls.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher posts alerts as JSON messages to one topic.
type SNSPublisher struct {
	client   snsAPI
	topicARN string
}

// NewSNSPublisher loads the default AWS credential chain for region.
func NewSNSPublisher(ctx context.Context, region, topicARN string) (*SNSPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

func (p *SNSPublisher) Publish(ctx context.Context, alert *ml.DriftAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal drift alert: %w", err)
	}

	subject := fmt.Sprintf("[%s] Drift en variables del modelo", alert.Severity)
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {DataType: aws.String("String"), StringValue: aws.String(alert.Severity)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish drift alert: %w", err)
	}

	log.Info().
		Str("topic", p.topicARN).
		Str("message_id", aws.ToString(out.MessageId)).
		Str("severity", alert.Severity).
		Msg("Drift alert published")
	return nil
}

// LogPublisher writes alerts to the global logger.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, alert *ml.DriftAlert) error {
	log.Warn().
		Str("severity", alert.Severity).
		Strs("features", alert.Features).
		Float64("ratio", alert.Ratio).
		Float64("threshold", alert.Threshold).
		Str("recommendation", alert.Recommendation).
		Msg(alert.Description)
	return nil
}
