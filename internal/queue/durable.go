package queue

import (
	"context"
	"errors"
	"time"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DurableQueue is the Postgres-backed Queue backend (spec §4.5.2): survives
// process restart, and leases are reclaimed by internal/recovery rather than
// lost with an in-memory process. Grounded on the lease-via-SKIP LOCKED
// pattern used for job dequeue in the retrieved nimbus-crawler reference.
type DurableQueue struct {
	pool      Execer
	sessionID uuid.UUID
	maxDepth  int
	maxPages  int
}

// NewDurableQueue wraps pool (normally a *pgxpool.Pool) for sessionID.
func NewDurableQueue(pool Execer, sessionID uuid.UUID, maxDepth, maxPages int) *DurableQueue {
	return &DurableQueue{pool: pool, sessionID: sessionID, maxDepth: maxDepth, maxPages: maxPages}
}

// Schema is the DDL this backend expects to already exist (spec §6, extended
// with not_before for backoff-scheduled retries per spec §4.10).
const Schema = `
CREATE TABLE IF NOT EXISTS queued_urls (
	session_id   UUID NOT NULL,
	url          TEXT NOT NULL,
	parent_url   TEXT,
	depth        INTEGER NOT NULL,
	priority     INTEGER NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	status       TEXT NOT NULL,
	leased_until TIMESTAMPTZ,
	not_before   TIMESTAMPTZ,
	PRIMARY KEY (session_id, url)
);
CREATE INDEX IF NOT EXISTS queued_urls_lease_idx
	ON queued_urls (session_id, status, priority DESC, depth ASC, discovered_at ASC)
	WHERE status = 'PENDING';
`

func (q *DurableQueue) Enqueue(ctx context.Context, item model.QueuedURL) (model.EnqueueOutcome, error) {
	if item.Depth > q.maxDepth {
		return model.DepthExceeded, nil
	}
	if q.maxPages > 0 {
		sizes, err := q.Size(ctx)
		if err != nil {
			return "", err
		}
		if sizes.Pending+sizes.InFlight+sizes.Terminal >= q.maxPages {
			return model.LimitReached, nil
		}
	}

	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now()
	}
	tag, err := q.pool.Exec(ctx, `
		INSERT INTO queued_urls
			(session_id, url, parent_url, depth, priority, discovered_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		ON CONFLICT (session_id, url) DO NOTHING
	`, q.sessionID, item.URL, item.ParentURL, item.Depth, item.Priority, item.DiscoveredAt)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return model.Duplicate, nil
	}
	return model.Accepted, nil
}

// Lease polls for a ready PENDING row every pollInterval until timeout
// elapses or one is claimed. Postgres has no LISTEN/NOTIFY wiring here, so
// unlike MemoryQueue this backend is poll-based rather than wake-based —
// acceptable because durable mode is for long multi-process crawls where a
// few hundred milliseconds of added latency per lease is immaterial.
const pollInterval = 250 * time.Millisecond

func (q *DurableQueue) Lease(ctx context.Context, timeout, leaseDuration time.Duration) (*model.QueuedURL, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		item, err := q.tryLease(ctx, leaseDuration)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *DurableQueue) tryLease(ctx context.Context, leaseDuration time.Duration) (*model.QueuedURL, error) {
	row := q.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT url FROM queued_urls
			WHERE session_id = $1
			  AND status = 'PENDING'
			  AND (not_before IS NULL OR not_before <= now())
			ORDER BY priority DESC, depth ASC, discovered_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queued_urls q
		SET status = 'IN_FLIGHT', leased_until = $2
		FROM candidate
		WHERE q.session_id = $1 AND q.url = candidate.url
		RETURNING q.url, q.parent_url, q.depth, q.priority, q.discovered_at, q.attempts
	`, q.sessionID, time.Now().Add(leaseDuration))

	var item model.QueuedURL
	var parentURL *string
	err := row.Scan(&item.URL, &parentURL, &item.Depth, &item.Priority, &item.DiscoveredAt, &item.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parentURL != nil {
		item.ParentURL = *parentURL
	}
	item.SessionID = q.sessionID
	item.Status = model.StatusInFlight
	return &item, nil
}

func (q *DurableQueue) Complete(ctx context.Context, url string, outcome model.URLStatus, lastErr string, notBefore time.Time) error {
	return q.CompleteTx(ctx, q.pool, url, outcome, lastErr, notBefore)
}

// CompleteTx runs Complete's write against exec instead of q.pool, so a
// caller that already holds a pgx.Tx (internal/persistence, to keep a page
// write and its queue completion atomic per spec §4.11) can fold this write
// into that same transaction instead of committing it separately.
func (q *DurableQueue) CompleteTx(ctx context.Context, exec Execer, url string, outcome model.URLStatus, lastErr string, notBefore time.Time) error {
	if outcome == model.StatusPending {
		var nb *time.Time
		if !notBefore.IsZero() {
			nb = &notBefore
		}
		_, err := exec.Exec(ctx, `
			UPDATE queued_urls
			SET status = 'PENDING', attempts = attempts + 1, last_error = $3,
			    leased_until = NULL, not_before = $4
			WHERE session_id = $1 AND url = $2
		`, q.sessionID, url, lastErr, nb)
		return err
	}

	_, err := exec.Exec(ctx, `
		UPDATE queued_urls
		SET status = $3, last_error = $4, leased_until = NULL
		WHERE session_id = $1 AND url = $2
	`, q.sessionID, url, string(outcome), lastErr)
	return err
}

func (q *DurableQueue) Release(ctx context.Context, url string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE queued_urls
		SET status = 'PENDING', attempts = attempts + 1, leased_until = NULL
		WHERE session_id = $1 AND url = $2
	`, q.sessionID, url)
	return err
}

func (q *DurableQueue) Size(ctx context.Context) (Sizes, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT status, count(*) FROM queued_urls
		WHERE session_id = $1
		GROUP BY status
	`, q.sessionID)
	if err != nil {
		return Sizes{}, err
	}
	defer rows.Close()

	var s Sizes
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Sizes{}, err
		}
		switch model.URLStatus(status) {
		case model.StatusPending:
			s.Pending += count
		case model.StatusInFlight:
			s.InFlight += count
		default:
			s.Terminal += count
		}
	}
	return s, rows.Err()
}

// Close is a no-op: the pool's lifecycle is owned by the caller, not by each
// session's DurableQueue handle. Enqueue and Lease are not blocked after
// Close, and ErrClosed is never returned.
func (q *DurableQueue) Close() error { return nil }

// ReclaimStuck resets IN_FLIGHT rows whose lease has expired back to
// PENDING, incrementing attempts — unless the reclaim would push attempts
// past maxRetries, in which case the row is moved straight to FAILED
// instead (spec §4.12: "If attempts > max_retries, moved to FAILED
// instead"), so a worker that keeps crashing on the same URL doesn't cycle
// IN_FLIGHT/PENDING forever. Called periodically by internal/recovery, not
// by Queue consumers directly.
func (q *DurableQueue) ReclaimStuck(ctx context.Context, maxRetries int) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE queued_urls
		SET status = CASE WHEN attempts + 1 > $2 THEN 'FAILED' ELSE 'PENDING' END,
		    attempts = attempts + 1,
		    leased_until = NULL,
		    last_error = CASE WHEN attempts + 1 > $2
		        THEN 'max retries exceeded after lease expiry'
		        ELSE 'lease expired'
		    END
		WHERE session_id = $1 AND status = 'IN_FLIGHT' AND leased_until < now()
	`, q.sessionID, maxRetries)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
