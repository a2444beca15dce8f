// Package persistence implements the transactional store of spec §4.11:
// open_session/record_page/record_metric/close_session against the
// pages/links/word_frequencies/crawl_sessions/session_metrics_timeseries
// tables of spec §6. Grounded on the retrieved nimbus-crawler reference's
// adoption of jackc/pgx/v5 + pgxpool for a crawler's persistence layer;
// the models.* query-function style there is generalized here into methods
// on a single Store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/queue"
)

// Schema is the DDL this store expects (spec §6, essential columns only).
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_sessions (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	seed_urls         TEXT[] NOT NULL,
	max_depth         INT NOT NULL,
	max_pages         INT NOT NULL,
	worker_count      INT NOT NULL,
	rate_limit_delay  INTERVAL NOT NULL,
	user_agent        TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	ended_at          TIMESTAMPTZ,
	state             TEXT NOT NULL,
	first_fatal_error TEXT
);
CREATE TABLE IF NOT EXISTS pages (
	session_id        UUID NOT NULL REFERENCES crawl_sessions(id),
	url               TEXT NOT NULL,
	final_url         TEXT NOT NULL,
	http_status       INT NOT NULL,
	content_type      TEXT,
	title             TEXT,
	text_length       INT NOT NULL,
	word_count        INT NOT NULL,
	unique_word_count INT NOT NULL,
	crawled_at        TIMESTAMPTZ NOT NULL,
	UNIQUE(session_id, url)
);
CREATE TABLE IF NOT EXISTS word_frequencies (
	session_id UUID NOT NULL,
	url        TEXT NOT NULL,
	word       TEXT NOT NULL,
	count      INT NOT NULL,
	UNIQUE(session_id, url, word)
);
CREATE TABLE IF NOT EXISTS links (
	session_id UUID NOT NULL,
	source_url TEXT NOT NULL,
	dest_url   TEXT NOT NULL,
	kind       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_metrics_timeseries (
	session_id      UUID NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	pages_crawled   INT NOT NULL,
	bytes_processed BIGINT NOT NULL,
	errors          INT NOT NULL,
	pages_per_sec   DOUBLE PRECISION NOT NULL,
	bytes_per_sec   DOUBLE PRECISION NOT NULL,
	in_flight       INT NOT NULL,
	queue_length    INT NOT NULL
);
CREATE TABLE IF NOT EXISTS error_events (
	session_id UUID NOT NULL,
	url        TEXT NOT NULL,
	kind       TEXT NOT NULL,
	message    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
`

// Store wraps a *pgxpool.Pool with the crawl engine's transactional
// operations.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// OpenSession inserts a new crawl_sessions row and returns its id.
func (s *Store) OpenSession(ctx context.Context, session model.CrawlSession) (uuid.UUID, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.StartedAt = time.Now()
	session.State = model.SessionRunning

	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_sessions
			(id, name, seed_urls, max_depth, max_pages, worker_count, rate_limit_delay, user_agent, started_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, session.ID, session.Name, session.SeedURLs, session.MaxDepth, session.MaxPages,
		session.WorkerCount, session.RateLimitDelay, session.UserAgent, session.StartedAt, string(session.State))
	if err != nil {
		return uuid.Nil, fmt.Errorf("persistence: open session: %w", err)
	}
	return session.ID, nil
}

// RecordPage persists one successful fetch's page row, word frequencies,
// and discovered links atomically (spec §4.11: "single transaction").
func (s *Store) RecordPage(ctx context.Context, page model.Page, words map[string]int, links []model.Link) error {
	return s.RecordPageAndComplete(ctx, page, words, links, nil)
}

// RecordPageAndComplete is RecordPage extended to also run completeQueue
// (typically a DurableQueue.CompleteTx call) inside the same transaction, so
// the page write and its queue-row completion commit or roll back together
// (spec §4.11's "single transaction" guarantee extended to cover the queue
// row too, not just pages/word_frequencies/links). completeQueue may be nil,
// in which case this behaves exactly like RecordPage.
func (s *Store) RecordPageAndComplete(ctx context.Context, page model.Page, words map[string]int, links []model.Link, completeQueue func(ctx context.Context, exec queue.Execer) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin record_page tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pages
			(session_id, url, final_url, http_status, content_type, title, text_length, word_count, unique_word_count, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, url) DO UPDATE SET
			final_url = EXCLUDED.final_url,
			http_status = EXCLUDED.http_status,
			content_type = EXCLUDED.content_type,
			title = EXCLUDED.title,
			text_length = EXCLUDED.text_length,
			word_count = EXCLUDED.word_count,
			unique_word_count = EXCLUDED.unique_word_count,
			crawled_at = EXCLUDED.crawled_at
	`, page.SessionID, page.URL, page.FinalURL, page.HTTPStatus, page.ContentType,
		page.Title, page.TextLength, page.WordCount, page.UniqueWordCount, page.CrawledAt)
	if err != nil {
		return fmt.Errorf("persistence: upsert page: %w", err)
	}

	rows := make([][]any, 0, len(words))
	for word, count := range words {
		rows = append(rows, []any{page.SessionID, page.URL, word, count})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"word_frequencies"},
			[]string{"session_id", "url", "word", "count"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("persistence: copy word_frequencies: %w", err)
		}
	}

	linkRows := make([][]any, 0, len(links))
	for _, l := range links {
		linkRows = append(linkRows, []any{l.SessionID, l.SourceURL, l.DestURL, string(l.Kind)})
	}
	if len(linkRows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"links"},
			[]string{"session_id", "source_url", "dest_url", "kind"},
			pgx.CopyFromRows(linkRows),
		); err != nil {
			return fmt.Errorf("persistence: copy links: %w", err)
		}
	}

	if completeQueue != nil {
		if err := completeQueue(ctx, tx); err != nil {
			return fmt.Errorf("persistence: complete queue row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence: commit record_page: %w", err)
	}
	return nil
}

// RecordError appends one error_events row for a failed or retried fetch.
func (s *Store) RecordError(ctx context.Context, sessionID uuid.UUID, url string, kind model.ErrorKind, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO error_events (session_id, url, kind, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, url, string(kind), message, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: record error: %w", err)
	}
	return nil
}

// RecordMetric appends one periodic performance snapshot (append-only).
func (s *Store) RecordMetric(ctx context.Context, m model.SessionMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_metrics_timeseries
			(session_id, ts, pages_crawled, bytes_processed, errors, pages_per_sec, bytes_per_sec, in_flight, queue_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.SessionID, m.Timestamp, m.PagesCrawled, m.BytesProcessed, m.Errors, m.PagesPerSec, m.BytesPerSec, m.InFlight, m.QueueLength)
	if err != nil {
		return fmt.Errorf("persistence: record metric: %w", err)
	}
	return nil
}

// CloseSession marks the session's terminal state exactly once.
func (s *Store) CloseSession(ctx context.Context, sessionID uuid.UUID, state model.SessionState, firstFatalError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_sessions
		SET state = $2, ended_at = $3, first_fatal_error = NULLIF($4, '')
		WHERE id = $1
	`, sessionID, string(state), time.Now(), firstFatalError)
	if err != nil {
		return fmt.Errorf("persistence: close session: %w", err)
	}
	return nil
}
