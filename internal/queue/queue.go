// Package queue defines the URL Queue abstraction of spec §4.5 — a
// priority-ordered FIFO of pending URLs, deduplicated by normalized URL,
// with two interchangeable backends (MemoryQueue, DurableQueue).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrClosed is returned by MemoryQueue's Enqueue and Lease once it has been
// closed. DurableQueue never returns it.
var ErrClosed = errors.New("queue: closed")

// Execer is the narrow pgx executor surface the durable backend needs.
// *pgxpool.Pool and pgx.Tx both satisfy it, which is what lets a caller
// (internal/persistence) run a DurableQueue write inside its own
// transaction instead of as a separate commit.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Sizes reports the count of URLs in each broad status bucket.
type Sizes struct {
	Pending  int
	InFlight int
	Terminal int
}

// Queue is the contract both backends satisfy (spec §4.5).
type Queue interface {
	// Enqueue admits url at depth with the given priority, parent, and
	// discovery time. Returns DUPLICATE if (session, url) already exists,
	// DEPTH_EXCEEDED if depth exceeds the configured max, LIMIT_REACHED if
	// the configured page cap has been reached, or ACCEPTED otherwise.
	Enqueue(ctx context.Context, item model.QueuedURL) (model.EnqueueOutcome, error)

	// Lease returns the highest-priority, lowest-depth, earliest-discovered
	// PENDING item, transitioning it to IN_FLIGHT with a lease expiry of
	// now+leaseDuration. Returns (nil, nil) if no item became available
	// before timeout elapses, or a non-nil error if ctx is cancelled first.
	Lease(ctx context.Context, timeout, leaseDuration time.Duration) (*model.QueuedURL, error)

	// Complete transitions an IN_FLIGHT url to outcome (DONE, FAILED,
	// SKIPPED, or PENDING for a retryable failure, which also increments
	// attempts and applies notBefore as the next eligible lease time).
	Complete(ctx context.Context, url string, outcome model.URLStatus, lastErr string, notBefore time.Time) error

	// Release transitions an IN_FLIGHT url back to PENDING immediately,
	// incrementing attempts (used on worker crash or cooperative cancel).
	Release(ctx context.Context, url string) error

	// Size reports the current counts per status bucket.
	Size(ctx context.Context) (Sizes, error)

	// Close rejects further enqueues and unblocks any waiting Lease calls
	// (MemoryQueue). DurableQueue.Close is a no-op: after it, Enqueue and
	// Lease keep working and waiting Lease calls run to their timeout.
	Close() error
}
