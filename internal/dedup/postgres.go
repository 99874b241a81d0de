package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/potooio/potoo-mailer/internal/types"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	postgresSchema = `CREATE TABLE IF NOT EXISTS mailer_dedup (
	job_run_id TEXT NOT NULL,
	dedup_id   TEXT NOT NULL,
	expire_at  BIGINT NOT NULL,
	PRIMARY KEY (job_run_id, dedup_id)
)`

	// An expired row is taken over by the new write; a live row makes the
	// statement affect zero rows.
	postgresUpsert = `INSERT INTO mailer_dedup (job_run_id, dedup_id, expire_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_run_id, dedup_id) DO UPDATE SET expire_at = EXCLUDED.expire_at
WHERE mailer_dedup.expire_at < $4`
)

// PostgresStore keeps records in the mailer_dedup table. The table is
// created on first use, so an unreachable database surfaces as a
// CheckAndWrite error rather than at startup.
type PostgresStore struct {
	db Execer

	mu    sync.Mutex
	ready bool
}

// NewPostgresStore wraps db. No statement runs until the first call.
func NewPostgresStore(db Execer) *PostgresStore {
	return &PostgresStore{db: db}
}

// ensureSchema creates the table once; a failed attempt is retried on the
// next call.
func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create mailer_dedup: %w", err)
	}
	p.ready = true
	return nil
}

// CheckAndWrite implements Store.
func (p *PostgresStore) CheckAndWrite(ctx context.Context, rec types.DedupRecord, now time.Time) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	tag, err := p.db.Exec(ctx, postgresUpsert, rec.PartitionKey, rec.DedupID, rec.ExpireAt, now.Unix())
	if err != nil {
		return false, fmt.Errorf("postgres upsert: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

// DeleteExpired implements Pruner.
func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return 0, err
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM mailer_dedup WHERE expire_at < $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
