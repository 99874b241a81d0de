// Package dedup guards notification delivery with an idempotency record per
// (run, notification unit). Every store performs a single atomic
// conditional write; two workers racing on the same key cannot both win.
package dedup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/types"
)

// DefaultTTL is how long a record suppresses repeats.
const DefaultTTL = 2 * time.Hour

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "potoo_mailer_dedup_checks_total",
		Help: "Dedup gate decisions by result (new, duplicate, error, disabled).",
	},
	[]string{"result"},
)

// Store records notification units. CheckAndWrite writes rec unless a live
// (unexpired) record with the same key exists, and reports whether one did.
type Store interface {
	CheckAndWrite(ctx context.Context, rec types.DedupRecord, now time.Time) (duplicate bool, err error)
}

// Pruner is implemented by stores whose expired records are not removed by
// the backend itself.
type Pruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Gate decides whether a notification unit may be transmitted.
type Gate struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewGate creates a Gate. A nil store disables dedup; ttl <= 0 uses DefaultTTL.
func NewGate(store Store, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl, logger: logger.Named("dedup"), now: time.Now}
}

// Allow reports whether the unit identified by (partitionKey, dedupID) should
// be sent. It fails open: with no store, or when the store errors, the unit
// is allowed.
func (g *Gate) Allow(ctx context.Context, partitionKey, dedupID string) bool {
	if g == nil || g.store == nil {
		checksTotal.WithLabelValues("disabled").Inc()
		return true
	}
	now := g.now()
	rec := types.DedupRecord{
		PartitionKey: partitionKey,
		DedupID:      dedupID,
		ExpireAt:     now.Add(g.ttl).Unix(),
	}
	dup, err := g.store.CheckAndWrite(ctx, rec, now)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		g.logger.Warn("Dedup store unavailable, sending anyway",
			zap.String("partition", partitionKey),
			zap.String("dedupID", dedupID),
			zap.Error(err))
		return true
	}
	if dup {
		checksTotal.WithLabelValues("duplicate").Inc()
		g.logger.Info("Duplicate notification suppressed",
			zap.String("partition", partitionKey),
			zap.String("dedupID", dedupID))
		return false
	}
	checksTotal.WithLabelValues("new").Inc()
	return true
}

// Prune removes expired records when the store needs it. Errors are logged
// only; a failed cleanup never affects delivery.
func (g *Gate) Prune(ctx context.Context) {
	if g == nil || g.store == nil {
		return
	}
	p, ok := g.store.(Pruner)
	if !ok {
		return
	}
	n, err := p.DeleteExpired(ctx, g.now())
	if err != nil {
		g.logger.Warn("Failed to prune expired dedup records", zap.Error(err))
		return
	}
	g.logger.Debug("Pruned expired dedup records", zap.Int64("count", n))
}
