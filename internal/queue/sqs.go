package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/util"
)

// DataMessageType is the mtype attribute the policy engine stamps on
// notification messages.
const DataMessageType = "maidmsg/1.0"

// SQS caps ReceiveMessage at 10 messages.
const sqsMaxMessages = 10

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSSource is a delete-based source.
type SQSSource struct {
	client   SQSAPI
	queueURL string
	wait     int32
	logger   *zap.Logger
}

// NewSQSSource creates an SQS source. waitSeconds is the long-poll wait.
func NewSQSSource(client SQSAPI, queueURL string, waitSeconds int, logger *zap.Logger) *SQSSource {
	return &SQSSource{
		client:   client,
		queueURL: queueURL,
		wait:     int32(waitSeconds),
		logger:   logger.Named("sqs"),
	}
}

// Name implements Source.
func (s *SQSSource) Name() string { return "sqs" }

// Poll implements Source.
func (s *SQSSource) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 || max > sqsMaxMessages {
		max = sqsMaxMessages
	}
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(s.queueURL),
		MaxNumberOfMessages:         int32(max),
		WaitTimeSeconds:             s.wait,
		MessageAttributeNames:       []string{"mtype", "recipient"},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameSentTimestamp},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", s.queueURL, err)
	}
	s.logger.Debug("Messages received", zap.Int("count", len(out.Messages)))

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:         aws.ToString(m.MessageId),
			Body:       []byte(aws.ToString(m.Body)),
			Receipt:    aws.ToString(m.ReceiptHandle),
			Attributes: make(map[string]string, len(m.MessageAttributes)),
		}
		for k, v := range m.MessageAttributes {
			msg.Attributes[k] = aws.ToString(v.StringValue)
		}
		if ms, err := strconv.ParseInt(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
			msg.SentAt = time.UnixMilli(ms)
		}
		if msg.Attributes["mtype"] != DataMessageType {
			s.logger.Warn("Unknown sqs message or sns format",
				zap.String("messageID", msg.ID), zap.String("body", util.Truncate(aws.ToString(m.Body), 50)))
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack implements Source by deleting the message.
func (s *SQSSource) Ack(ctx context.Context, msg Message) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

// Checkpoint implements Source.
func (s *SQSSource) Checkpoint(context.Context, []Message) error { return nil }
