// Package recovery implements the periodic stuck-lease reclamation,
// retention cleanup, and health snapshot of spec §4.12. It runs only
// against the durable queue backend; the in-memory backend has no
// cross-process state to recover.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/queue"
)

// HealthSnapshot is the periodic counts-per-status report (spec §4.12).
type HealthSnapshot struct {
	Sizes            queue.Sizes
	OldestPendingAge time.Duration
	OldestInFlightAge time.Duration
}

// Recovery runs the periodic maintenance tasks against a durable queue.
type Recovery struct {
	pool       *pgxpool.Pool
	queue      *queue.DurableQueue
	sessionID  uuid.UUID
	retention  time.Duration
	maxRetries int
	log        zerolog.Logger
}

func New(pool *pgxpool.Pool, q *queue.DurableQueue, sessionID uuid.UUID, retention time.Duration, maxRetries int, log zerolog.Logger) *Recovery {
	return &Recovery{pool: pool, queue: q, sessionID: sessionID, retention: retention, maxRetries: maxRetries, log: log}
}

// Run executes one reclamation + cleanup + snapshot pass. It is idempotent
// and safe to call at session start to absorb orphans from a prior crash.
func (r *Recovery) Run(ctx context.Context) (HealthSnapshot, error) {
	reclaimed, err := r.queue.ReclaimStuck(ctx, r.maxRetries)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("recovery: reclaim stuck leases: %w", err)
	}
	if reclaimed > 0 {
		r.log.Info().Int64("count", reclaimed).Msg("reclaimed stuck leases")
	}

	deleted, err := r.cleanupRetention(ctx)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("recovery: retention cleanup: %w", err)
	}
	if deleted > 0 {
		r.log.Info().Int64("count", deleted).Msg("purged retained terminal rows")
	}

	return r.snapshot(ctx)
}

// RunPeriodically runs Run every interval until ctx is cancelled.
func (r *Recovery) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.log.Error().Err(err).Msg("recovery pass failed")
			}
		}
	}
}

func (r *Recovery) cleanupRetention(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM queued_urls
		WHERE session_id = $1
		  AND status IN ('DONE', 'FAILED', 'SKIPPED')
		  AND discovered_at < $2
	`, r.sessionID, time.Now().Add(-r.retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Recovery) snapshot(ctx context.Context) (HealthSnapshot, error) {
	sizes, err := r.queue.Size(ctx)
	if err != nil {
		return HealthSnapshot{}, err
	}

	var oldestPending, oldestInFlight time.Time
	row := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT min(discovered_at) FROM queued_urls WHERE session_id = $1 AND status = 'PENDING'),
			(SELECT min(discovered_at) FROM queued_urls WHERE session_id = $1 AND status = 'IN_FLIGHT')
	`, r.sessionID)
	if err := row.Scan(&oldestPending, &oldestInFlight); err != nil {
		return HealthSnapshot{Sizes: sizes}, nil
	}

	snap := HealthSnapshot{Sizes: sizes}
	if !oldestPending.IsZero() {
		snap.OldestPendingAge = time.Since(oldestPending)
	}
	if !oldestInFlight.IsZero() {
		snap.OldestInFlightAge = time.Since(oldestInFlight)
	}
	return snap, nil
}
