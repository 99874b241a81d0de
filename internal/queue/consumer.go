package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/potooio/potoo-mailer/internal/codec"
	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

// ErrUnavailable is returned when the very first poll fails.
var ErrUnavailable = errors.New("queue unavailable")

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potoo_mailer_messages_total",
			Help: "Queue messages by outcome (processed, malformed, ack_error).",
		},
		[]string{"source", "result"},
	)
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potoo_mailer_batches_total",
			Help: "Polled batches per source.",
		},
		[]string{"source"},
	)
)

// Dispatcher delivers one decoded event. *notifier.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *types.Event)
}

// Stats summarizes one drain.
type Stats struct {
	RunID     string
	Batches   int
	Processed int
	Malformed int
	AckErrors int
}

// Consumer drains a Source through a bounded worker pool.
type Consumer struct {
	source     Source
	dispatcher Dispatcher
	workers    int
	batchSize  int
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewConsumer creates a Consumer. workers below 1 means 1.
func NewConsumer(source Source, dispatcher Dispatcher, workers, batchSize int, logger *zap.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		source:     source,
		dispatcher: dispatcher,
		workers:    workers,
		batchSize:  batchSize,
		logger:     logger.Named("consumer"),
		tracer:     otel.Tracer("github.com/potooio/potoo-mailer/internal/queue"),
	}
}

// Run polls until the queue is empty. Messages that fail to decode are
// logged and left on the queue. A poll that yields only messages already
// seen in this run ends the drain, so a redelivered poison message cannot
// loop forever.
func (c *Consumer) Run(ctx context.Context) (Stats, error) {
	stats := Stats{RunID: uuid.NewString()}
	logger := c.logger.With(zap.String("runID", stats.RunID), zap.String("source", c.source.Name()))
	logger.Info("Draining queue", zap.Int("workers", c.workers))

	var mu sync.Mutex
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := c.source.Poll(ctx, c.batchSize)
		if err != nil {
			if stats.Batches == 0 {
				return stats, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			return stats, err
		}
		if len(batch) == 0 {
			logger.Info("No messages left on the queue",
				zap.Int("processed", stats.Processed),
				zap.Int("malformed", stats.Malformed))
			return stats, nil
		}
		if allSeen(batch, seen) {
			logger.Warn("Queue only returned messages already handled in this run, stopping",
				zap.Int("count", len(batch)))
			return stats, nil
		}
		stats.Batches++
		batchesTotal.WithLabelValues(c.source.Name()).Inc()

		g := new(errgroup.Group)
		g.SetLimit(c.workers)
		for _, msg := range batch {
			// Messages without an id cannot be told apart, so they are
			// never treated as repeats.
			if msg.ID != "" {
				mu.Lock()
				dup := seen[msg.ID]
				seen[msg.ID] = true
				mu.Unlock()
				if dup {
					continue
				}
			}
			g.Go(func() error {
				outcome := c.process(ctx, logger, msg)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeMalformed:
					stats.Malformed++
				case outcomeAckError:
					stats.Processed++
					stats.AckErrors++
				default:
					stats.Processed++
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := c.source.Checkpoint(ctx, batch); err != nil {
			return stats, err
		}
	}
}

func allSeen(batch []Message, seen map[string]bool) bool {
	for _, m := range batch {
		if m.ID == "" || !seen[m.ID] {
			return false
		}
	}
	return true
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeMalformed
	outcomeAckError
)

func (c *Consumer) process(ctx context.Context, logger *zap.Logger, msg Message) outcome {
	ctx, span := c.tracer.Start(ctx, "process-message",
		trace.WithAttributes(attribute.String("message.id", msg.ID)))
	defer span.End()

	ev, err := codec.Decode(msg.Body)
	if err != nil {
		messagesTotal.WithLabelValues(c.source.Name(), "malformed").Inc()
		logger.Error("Failed to decode message",
			zap.String("messageID", msg.ID),
			zap.String("body", util.Truncate(string(msg.Body), 256)),
			zap.Error(err))
		return outcomeMalformed
	}
	ev.MessageID = msg.ID
	if !msg.SentAt.IsZero() {
		ev.SentAt = msg.SentAt.Unix()
	}
	logger.Debug("Processing message",
		zap.String("messageID", msg.ID),
		zap.String("account", ev.Account),
		zap.String("policy", ev.Policy.Name),
		zap.String("resourceType", ev.ResourceType()),
		zap.Int("resources", len(ev.Resources)),
		zap.Strings("to", ev.Action.To))

	c.dispatcher.Dispatch(ctx, ev)

	if err := c.source.Ack(ctx, msg); err != nil {
		messagesTotal.WithLabelValues(c.source.Name(), "ack_error").Inc()
		logger.Error("Failed to ack message", zap.String("messageID", msg.ID), zap.Error(err))
		return outcomeAckError
	}
	messagesTotal.WithLabelValues(c.source.Name(), "processed").Inc()
	return outcomeProcessed
}
