package queue

import (
	"context"
	"encoding/base64"
	"fmt"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// pubsubMaxMessages is the pull size used per poll.
const pubsubMaxMessages = 1000

// SubscriberAPI is the part of the Pub/Sub apiv1 SubscriberClient used here.
type SubscriberAPI interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Seek(ctx context.Context, req *pubsubpb.SeekRequest, opts ...gax.CallOption) (*pubsubpb.SeekResponse, error)
}

// PubSubSource is a seek-based source: after a batch is processed the
// subscription is sought to the newest publish time in the batch.
type PubSubSource struct {
	client       SubscriberAPI
	subscription string
	logger       *zap.Logger
}

// NewPubSubSource creates a source for a full subscription name
// (projects/<p>/subscriptions/<s>).
func NewPubSubSource(client SubscriberAPI, subscription string, logger *zap.Logger) *PubSubSource {
	return &PubSubSource{client: client, subscription: subscription, logger: logger.Named("pubsub")}
}

// Name implements Source.
func (p *PubSubSource) Name() string { return "pubsub" }

// Poll implements Source. Payload bytes are base64 encoded so the codec sees
// the same envelope as on SQS.
func (p *PubSubSource) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 || max > pubsubMaxMessages {
		max = pubsubMaxMessages
	}
	resp, err := p.client.Pull(ctx, &pubsubpb.PullRequest{
		Subscription:      p.subscription,
		MaxMessages:       int32(max),
		ReturnImmediately: true, //nolint:staticcheck
	})
	if err != nil {
		return nil, fmt.Errorf("pull from %s: %w", p.subscription, err)
	}

	msgs := make([]Message, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		pm := rm.GetMessage()
		body := make([]byte, base64.StdEncoding.EncodedLen(len(pm.GetData())))
		base64.StdEncoding.Encode(body, pm.GetData())
		msg := Message{
			ID:         pm.GetMessageId(),
			Body:       body,
			Attributes: pm.GetAttributes(),
			Receipt:    rm.GetAckId(),
		}
		if ts := pm.GetPublishTime(); ts != nil {
			msg.SentAt = ts.AsTime()
		}
		msgs = append(msgs, msg)
	}
	p.logger.Debug("Messages pulled", zap.Int("count", len(msgs)))
	return msgs, nil
}

// Ack implements Source.
func (p *PubSubSource) Ack(context.Context, Message) error { return nil }

// Checkpoint implements Source by seeking to the latest publish time of
// the batch.
func (p *PubSubSource) Checkpoint(ctx context.Context, batch []Message) error {
	var latest Message
	for _, m := range batch {
		if m.SentAt.After(latest.SentAt) {
			latest = m
		}
	}
	if latest.SentAt.IsZero() {
		return nil
	}
	_, err := p.client.Seek(ctx, &pubsubpb.SeekRequest{
		Subscription: p.subscription,
		Target:       &pubsubpb.SeekRequest_Time{Time: timestamppb.New(latest.SentAt)},
	})
	if err != nil {
		return fmt.Errorf("seek %s: %w", p.subscription, err)
	}
	p.logger.Debug("Subscription sought", zap.Time("time", latest.SentAt))
	return nil
}
