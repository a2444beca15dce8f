// Package session implements the central orchestrator of spec §4.10: the
// loop that leases URLs, submits them to the worker pool, drains results,
// persists them, enqueues discovered links, and applies the termination
// predicate. Grounded on the teacher's Crawler.Run coordinator loop
// (src/crawler/crawler.go), generalized from a closed-channel BFS walk to a
// queue.Queue-backed pipeline with persistence and recovery.
package session

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/dedup"
	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/pool"
	"github.com/gennadylaventman/crawler/internal/queue"
	"github.com/gennadylaventman/crawler/internal/urlnorm"
)

// txRecorder is satisfied by *persistence.Store. Declared locally (rather
// than widening Persister itself) so the memory-backed run path, whose
// Persister fakes don't implement it, keeps working via the plain
// RecordPage/Complete pair below.
type txRecorder interface {
	RecordPageAndComplete(ctx context.Context, page model.Page, words map[string]int, links []model.Link, completeQueue func(ctx context.Context, exec queue.Execer) error) error
}

// txCompleter is satisfied by *queue.DurableQueue.
type txCompleter interface {
	CompleteTx(ctx context.Context, exec queue.Execer, url string, outcome model.URLStatus, lastErr string, notBefore time.Time) error
}

// Persister is the subset of persistence.Store the session needs. Declared
// here (rather than imported as a concrete type) so tests can substitute a
// recording fake.
type Persister interface {
	OpenSession(ctx context.Context, session model.CrawlSession) (uuid.UUID, error)
	RecordPage(ctx context.Context, page model.Page, words map[string]int, links []model.Link) error
	RecordError(ctx context.Context, sessionID uuid.UUID, url string, kind model.ErrorKind, message string) error
	RecordMetric(ctx context.Context, m model.SessionMetric) error
	CloseSession(ctx context.Context, sessionID uuid.UUID, state model.SessionState, firstFatalError string) error
}

// Config controls session-level policy not already owned by the queue,
// pool, or worker.
type Config struct {
	MaxDepth       int
	MaxPages       int
	SeedPriority   int
	LeaseTimeout   time.Duration
	LeaseDuration  time.Duration
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxRetries     int
	URLNorm        urlnorm.Config
}

// Session coordinates Queue, Pool, the dedup filter, and persistence for
// one crawl run (spec §4.10).
type Session struct {
	cfg       Config
	id        uuid.UUID
	q         queue.Queue
	p         *pool.Pool
	dedup     *dedup.Filter
	persist   Persister
	log       zerolog.Logger
	startHost string

	mu    sync.Mutex
	state model.SessionState

	pagesCrawled atomic.Int64
	errorCount   atomic.Int64
	bytesTotal   atomic.Int64

	cancelRequested atomic.Bool
	fatalErr        atomic.Value // string
}

func New(cfg Config, id uuid.UUID, q queue.Queue, p *pool.Pool, d *dedup.Filter, persist Persister, log zerolog.Logger) *Session {
	s := &Session{
		cfg:     cfg,
		id:      id,
		q:       q,
		p:       p,
		dedup:   d,
		persist: persist,
		log:     log,
		state:   model.SessionRunning,
	}
	s.fatalErr.Store("")
	return s
}

// Cancel requests cooperative shutdown (spec §5: "cancellation is
// propagated through a context/cancel token"); the loop observes it at the
// top of its next iteration.
func (s *Session) Cancel() { s.cancelRequested.Store(true) }

// State returns the session's current terminal (or RUNNING) state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run seeds the queue with seedURLs, starts the pool, and runs the
// orchestrator loop until should_terminate() is true, then drains and
// closes. It returns the session's final terminal state.
func (s *Session) Run(ctx context.Context, seedURLs []string) model.SessionState {
	parsed := false
	for _, raw := range seedURLs {
		normalized, err := urlnorm.Normalize(raw, "", s.cfg.URLNorm)
		if err != nil {
			s.log.Warn().Err(err).Str("url", raw).Msg("seed url failed normalization, skipping")
			continue
		}
		if !s.dedup.Add(normalized) {
			continue
		}
		if s.startHost == "" {
			s.startHost = hostOf(normalized)
		}
		item := model.QueuedURL{
			SessionID:    s.id,
			URL:          normalized,
			Depth:        0,
			Priority:     s.cfg.SeedPriority,
			DiscoveredAt: time.Now(),
		}
		outcome, err := s.q.Enqueue(ctx, item)
		if err != nil {
			s.setFatal(err.Error())
			break
		}
		if outcome == model.Accepted {
			parsed = true
		}
	}
	if !parsed {
		return s.finish(ctx, model.SessionFailed)
	}

	s.p.Start(ctx)

	for !s.shouldTerminate(ctx) {
		select {
		case result, ok := <-s.p.Results():
			if !ok {
				continue
			}
			s.handleResult(ctx, result)
		case <-time.After(s.cfg.LeaseTimeout):
		}
	}

	s.p.Stop()
	s.drainRemaining(ctx)

	final := model.SessionCompleted
	switch {
	case s.fatalErr.Load().(string) != "":
		final = model.SessionFailed
	case s.cancelRequested.Load():
		final = model.SessionCancelled
	}
	return s.finish(ctx, final)
}

// drainRemaining blocks on Results() until the pool closes it, so every
// in-flight fetch is persisted before the session closes (spec §4.10:
// "waits for all in-flight results, persists them").
func (s *Session) drainRemaining(ctx context.Context) {
	for result := range s.p.Results() {
		s.handleResult(ctx, result)
	}
}

func (s *Session) handleResult(ctx context.Context, result model.FetchResult) {
	outcome := result.Outcome()

	if outcome == model.StatusDone {
		page := model.Page{
			SessionID:       s.id,
			URL:             result.URL,
			FinalURL:        result.URL,
			HTTPStatus:      result.HTTPStatus,
			ContentType:     result.ContentType,
			Title:           result.Title,
			TextLength:      result.TextLength,
			WordCount:       result.WordCount,
			UniqueWordCount: result.UniqueWordCount,
			Timings:         result.Timings,
			CrawledAt:       time.Now(),
		}
		links := make([]model.Link, 0, len(result.DiscoveredLinks))
		for _, dest := range result.DiscoveredLinks {
			links = append(links, model.Link{SessionID: s.id, SourceURL: result.URL, DestURL: dest, Kind: s.classifyLink(dest)})
		}

		if err := s.recordPageAndComplete(ctx, page, result, links, outcome); err != nil {
			s.errorCount.Add(1)
			s.log.Error().Err(err).Str("url", result.URL).Msg("record_page failed")
		} else {
			s.pagesCrawled.Add(1)
			s.bytesTotal.Add(result.BodySize)
		}

		for _, link := range result.DiscoveredLinks {
			s.enqueueDiscovered(ctx, link, result.URL, result.Depth+1, result.Priority)
		}
		return
	}

	s.errorCount.Add(1)
	_ = s.persist.RecordError(ctx, s.id, result.URL, result.ErrorKind, result.ErrorMessage)

	// Retry only while attempts remain; once attempts+1 exceeds MaxRetries,
	// outcome (already FAILED/SKIPPED per FetchResult.Outcome) stands as
	// terminal so a permanently failing host doesn't retry forever (spec
	// §3, §7).
	retryable := result.ErrorKind.Retryable(result.HTTPStatus) && result.Attempts+1 <= s.cfg.MaxRetries
	if retryable {
		_ = s.q.Complete(ctx, result.URL, model.StatusPending, result.ErrorMessage, s.backoffUntil(result.Attempts))
	} else {
		_ = s.q.Complete(ctx, result.URL, outcome, result.ErrorMessage, time.Time{})
	}
}

// recordPageAndComplete persists page (plus word frequencies and links) and
// completes the queue row for a successful fetch. When the queue and
// persister backends are both durable, the two writes run in one pgx
// transaction so a crash between them can't leave a persisted page with its
// queue row still IN_FLIGHT (spec §4.11). The in-memory backend has neither
// capability and falls back to the two separate calls.
func (s *Session) recordPageAndComplete(ctx context.Context, page model.Page, result model.FetchResult, links []model.Link, outcome model.URLStatus) error {
	tr, persistIsTx := s.persist.(txRecorder)
	tc, queueIsTx := s.q.(txCompleter)
	if persistIsTx && queueIsTx {
		return tr.RecordPageAndComplete(ctx, page, result.WordFreq, links, func(ctx context.Context, exec queue.Execer) error {
			return tc.CompleteTx(ctx, exec, result.URL, outcome, result.ErrorMessage, time.Time{})
		})
	}

	if err := s.persist.RecordPage(ctx, page, result.WordFreq, links); err != nil {
		return err
	}
	return s.q.Complete(ctx, result.URL, outcome, result.ErrorMessage, time.Time{})
}

func (s *Session) enqueueDiscovered(ctx context.Context, rawURL, parentURL string, depth, parentPriority int) {
	normalized, err := urlnorm.Normalize(rawURL, parentURL, s.cfg.URLNorm)
	if err != nil {
		return
	}
	if !s.dedup.Add(normalized) {
		return
	}
	priority := parentPriority - 1
	if priority < 0 {
		priority = 0
	}
	item := model.QueuedURL{
		SessionID:    s.id,
		URL:          normalized,
		ParentURL:    parentURL,
		Depth:        depth,
		Priority:     priority,
		DiscoveredAt: time.Now(),
	}
	_, _ = s.q.Enqueue(ctx, item)
}

// backoffUntil computes the next-eligible retry timestamp: base * 2^attempts,
// bounded by MaxRetryDelay (spec §7: "now + base * 2^attempts (bounded)").
func (s *Session) backoffUntil(attempts int) time.Time {
	delay := s.cfg.BaseRetryDelay
	for i := 0; i < attempts && delay < s.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > s.cfg.MaxRetryDelay {
		delay = s.cfg.MaxRetryDelay
	}
	return time.Now().Add(delay)
}

func (s *Session) classifyLink(dest string) model.LinkKind {
	if s.startHost == "" {
		return model.LinkInternal
	}
	if host := hostOf(dest); host == s.startHost {
		return model.LinkInternal
	}
	return model.LinkExternal
}

func (s *Session) setFatal(msg string) {
	s.fatalErr.CompareAndSwap("", msg)
}

// shouldTerminate implements spec §4.10's predicate: page limit reached,
// cancellation requested, fatal error encountered, or the queue is empty
// with nothing in flight.
func (s *Session) shouldTerminate(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.cancelRequested.Store(true)
		return true
	}
	if s.cancelRequested.Load() {
		return true
	}
	if s.fatalErr.Load().(string) != "" {
		return true
	}
	if s.cfg.MaxPages > 0 && int(s.pagesCrawled.Load()) >= s.cfg.MaxPages {
		return true
	}
	sizes, err := s.q.Size(ctx)
	if err != nil {
		s.setFatal(err.Error())
		return true
	}
	return sizes.Pending == 0 && sizes.InFlight == 0
}

func (s *Session) finish(ctx context.Context, state model.SessionState) model.SessionState {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	_ = s.q.Close()
	_ = s.persist.CloseSession(ctx, s.id, state, s.fatalErr.Load().(string))
	return state
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
