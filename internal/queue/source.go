// Package queue drains notification messages from a cloud queue and hands
// them to the dispatcher.
//
// Two acknowledgement models are supported. Delete-based sources (SQS) ack
// each message after it has been processed. Seek-based sources (Pub/Sub)
// ack nothing per message and instead move the subscription cursor once a
// whole batch is done. The Consumer drives both through the Source contract.
package queue

import (
	"context"
	"time"
)

// Message is one raw queue message.
type Message struct {
	ID   string
	Body []byte
	// SentAt is when the producer published the message.
	SentAt     time.Time
	Attributes map[string]string
	// Receipt is the backend handle needed to ack the message.
	Receipt string
}

// Source is a queue backend.
type Source interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Poll returns up to max messages. An empty result means the queue is
	// drained.
	Poll(ctx context.Context, max int) ([]Message, error)

	// Ack marks one processed message as done. Seek-based sources no-op.
	Ack(ctx context.Context, msg Message) error

	// Checkpoint runs once per batch after every message has been processed.
	// Delete-based sources no-op.
	Checkpoint(ctx context.Context, batch []Message) error
}
