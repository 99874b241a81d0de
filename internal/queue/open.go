package queue

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/apiv1"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/potooio/potoo-mailer/internal/config"
)

// Open builds the Source selected by the configuration. The returned close
// func releases backend connections.
func Open(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (Source, func() error, error) {
	queueType := cfg.QueueType
	if queueType == "" {
		queueType = config.InferQueueType(cfg.QueueURL)
	}

	switch queueType {
	case config.QueuePubSub:
		var opts []option.ClientOption
		if cfg.EndpointURL != "" {
			opts = append(opts, option.WithEndpoint(cfg.EndpointURL))
		}
		client, err := pubsub.NewSubscriberClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub subscriber client: %w", err)
		}
		return NewPubSubSource(client, cfg.QueueURL, logger), client.Close, nil
	case config.QueueSQS:
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}
		})
		return NewSQSSource(client, cfg.QueueURL, cfg.WaitSeconds, logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue_type %q", queueType)
	}
}
