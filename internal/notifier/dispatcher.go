package notifier

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/types"
)

// Dispatcher runs the channels selected by an event and records the results.
type Dispatcher struct {
	channels []Channel
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a Dispatcher. Channels are sorted into Order;
// channels with unknown names run last in the order given.
func NewDispatcher(logger *zap.Logger, channels ...Channel) *Dispatcher {
	sorted := append([]Channel(nil), channels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orderIndex(sorted[i].Name()) < orderIndex(sorted[j].Name())
	})
	return &Dispatcher{
		channels: sorted,
		logger:   logger.Named("dispatcher"),
		tracer:   otel.Tracer("github.com/potooio/potoo-mailer/internal/notifier"),
	}
}

func orderIndex(name string) int {
	for i, n := range Order {
		if n == name {
			return i
		}
	}
	return len(Order)
}

// Channels returns the channel names in dispatch order.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		out = append(out, c.Name())
	}
	return out
}

// Dispatch delivers ev on every accepting channel. It never fails: channel
// errors and panics become failed results on ev.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *types.Event) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("policy", ev.Policy.Name),
			attribute.String("account", ev.Account),
			attribute.Int("resources", len(ev.Resources)),
		))
	defer span.End()

	attempted := 0
	for _, ch := range d.channels {
		if !ch.Accepts(ev) {
			continue
		}
		attempted++
		for _, r := range d.deliver(ctx, ch, ev) {
			ev.Record(r)
			d.observe(ev, r)
		}
	}

	failures := ev.Failures()
	if len(failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d channel failures", len(failures)))
	}
	if attempted == 0 {
		d.logger.Warn("No channel accepted event", zap.Stringer("event", ev))
	}
}

// deliver runs one channel, converting a panic into a failed result.
func (d *Dispatcher) deliver(ctx context.Context, ch Channel, ev *types.Event) (results []types.ChannelResult) {
	defer func() {
		if rec := recover(); rec != nil {
			channelPanicsTotal.WithLabelValues(ch.Name()).Inc()
			d.logger.Error("Channel panicked",
				zap.String("channel", ch.Name()),
				zap.String("policy", ev.Policy.Name),
				zap.Any("panic", rec))
			results = append(results, types.Failed(ch.Name(), "", fmt.Errorf("panic: %v", rec)))
		}
	}()
	return ch.Deliver(ctx, ev)
}

func (d *Dispatcher) observe(ev *types.Event, r types.ChannelResult) {
	switch {
	case r.Skipped:
		deliveriesTotal.WithLabelValues(r.Channel, "skipped").Inc()
		d.logger.Debug("Notification skipped",
			zap.String("channel", r.Channel),
			zap.String("target", r.Target),
			zap.String("reason", r.Detail))
	case r.OK:
		deliveriesTotal.WithLabelValues(r.Channel, "ok").Inc()
		d.logger.Info("Notification delivered",
			zap.String("channel", r.Channel),
			zap.String("target", r.Target),
			zap.String("policy", ev.Policy.Name),
			zap.String("account", ev.Account),
			zap.String("region", ev.Region))
	default:
		deliveriesTotal.WithLabelValues(r.Channel, "failed").Inc()
		d.logger.Error("Notification failed",
			zap.String("channel", r.Channel),
			zap.String("target", r.Target),
			zap.String("policy", ev.Policy.Name),
			zap.String("account", ev.Account),
			zap.String("error", r.Detail))
	}
}
