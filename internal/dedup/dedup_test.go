package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/potooio/potoo-mailer/internal/types"
)

type failingStore struct{}

func (failingStore) CheckAndWrite(context.Context, types.DedupRecord, time.Time) (bool, error) {
	return false, errors.New("ProvisionedThroughputExceededException")
}

func TestGate_SecondCallIsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	g := NewGate(store, 0, zap.NewNop())
	ctx := context.Background()

	before := testutil.ToFloat64(checksTotal.WithLabelValues("duplicate"))
	assert.True(t, g.Allow(ctx, "1700000000.5", "email|p|1|a|r|x@y.com"))
	assert.False(t, g.Allow(ctx, "1700000000.5", "email|p|1|a|r|x@y.com"))
	assert.Equal(t, before+1, testutil.ToFloat64(checksTotal.WithLabelValues("duplicate")))

	assert.True(t, g.Allow(ctx, "1700000099.0", "email|p|1|a|r|x@y.com"), "different run")
	assert.True(t, g.Allow(ctx, "1700000000.5", "email|p|1|a|r|z@y.com"), "different recipient")
	assert.Equal(t, 3, store.Len())
}

func TestGate_ExpiredRecordAllowsAgain(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewGate(NewMemoryStore(), time.Hour, zap.NewNop())
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow(context.Background(), "run", "id"))
	now = now.Add(30 * time.Minute)
	assert.False(t, g.Allow(context.Background(), "run", "id"))
	now = now.Add(31 * time.Minute)
	assert.True(t, g.Allow(context.Background(), "run", "id"))
}

func TestGate_FailsOpenOnStoreError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	g := NewGate(failingStore{}, 0, zap.New(core))

	before := testutil.ToFloat64(checksTotal.WithLabelValues("error"))
	assert.True(t, g.Allow(context.Background(), "run", "id"))
	assert.True(t, g.Allow(context.Background(), "run", "id"))
	assert.Equal(t, before+2, testutil.ToFloat64(checksTotal.WithLabelValues("error")))
	assert.Equal(t, 2, logs.FilterMessage("Dedup store unavailable, sending anyway").Len())
}

func TestGate_NilStoreDisabled(t *testing.T) {
	g := NewGate(nil, 0, zap.NewNop())
	assert.True(t, g.Allow(context.Background(), "run", "id"))
	assert.True(t, g.Allow(context.Background(), "run", "id"))

	var nilGate *Gate
	assert.True(t, nilGate.Allow(context.Background(), "run", "id"))
}

func TestGate_ConcurrentCallersOneWinner(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, zap.NewNop())
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow(context.Background(), "run", "same") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())
}

func TestNewGate_DefaultTTL(t *testing.T) {
	g := NewGate(nil, -time.Minute, zap.NewNop())
	require.Equal(t, DefaultTTL, g.ttl)
}

func TestGate_PruneDeletesExpired(t *testing.T) {
	f := &fakeExecer{tags: []string{"CREATE TABLE", "DELETE 2"}}
	g := NewGate(NewPostgresStore(f), time.Hour, zap.NewNop())
	g.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	g.Prune(context.Background())

	require.Len(t, f.sql, 2)
	assert.Contains(t, f.sql[1], "DELETE FROM mailer_dedup")
	assert.Equal(t, []any{int64(1_700_000_000)}, f.args[1])
}

func TestGate_PruneErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	g := NewGate(NewPostgresStore(&fakeExecer{err: errors.New("connection refused")}), time.Hour, zap.New(core))

	g.Prune(context.Background())

	assert.Equal(t, 1, logs.FilterMessage("Failed to prune expired dedup records").Len())
}

func TestGate_PruneWithoutPruner(t *testing.T) {
	var nilGate *Gate
	assert.NotPanics(t, func() {
		nilGate.Prune(context.Background())
		NewGate(nil, 0, zap.NewNop()).Prune(context.Background())
		NewGate(NewMemoryStore(), 0, zap.NewNop()).Prune(context.Background())
	})
}
