package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/potooio/potoo-mailer/internal/types"
)

// RedisStore keeps records as keys with a TTL; SET NX makes the check and the
// write one command.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "potoo-mailer:dedup:"}
}

// CheckAndWrite implements Store.
func (r *RedisStore) CheckAndWrite(ctx context.Context, rec types.DedupRecord, now time.Time) (bool, error) {
	ttl := time.Unix(rec.ExpireAt, 0).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	key := r.prefix + rec.PartitionKey + ":" + rec.DedupID
	ok, err := r.client.SetNX(ctx, key, rec.ExpireAt, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !ok, nil
}
