// Command crawler runs one crawl session end to end: it loads Config from
// the environment, wires the queue/pool/session, and blocks until the
// session reaches a terminal state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gennadylaventman/crawler/internal/config"
	"github.com/gennadylaventman/crawler/internal/dedup"
	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/persistence"
	"github.com/gennadylaventman/crawler/internal/pool"
	"github.com/gennadylaventman/crawler/internal/queue"
	"github.com/gennadylaventman/crawler/internal/ratelimit"
	"github.com/gennadylaventman/crawler/internal/recovery"
	"github.com/gennadylaventman/crawler/internal/robots"
	"github.com/gennadylaventman/crawler/internal/session"
	"github.com/gennadylaventman/crawler/internal/urlnorm"
	"github.com/gennadylaventman/crawler/internal/worker"
)

func main() {
	var name string
	flag.StringVar(&name, "name", "crawl", "crawl session name")
	flag.Parse()
	seeds := flag.Args()
	if len(seeds) == 0 {
		fmt.Fprintln(os.Stderr, "usage: crawler [-name NAME] seed_url [seed_url...]")
		os.Exit(2)
	}

	cfg := config.FromEnv()
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, name, seeds, log); err != nil {
		log.Fatal().Err(err).Msg("crawl failed")
	}
}

func run(ctx context.Context, cfg config.Config, name string, seeds []string, log zerolog.Logger) error {
	sessionID := uuid.New()

	allowedTypes := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowedTypes[ct] = struct{}{}
	}

	dedupFilter, err := dedup.New(cfg.MaxPages, 0.01)
	if err != nil {
		return fmt.Errorf("create dedup filter: %w", err)
	}
	defer dedupFilter.Close()

	robotsPolicy := robots.New(nil, cfg.RobotsCacheTTL, cfg.RobotsCrawlDelayFloor, log)
	limiter := ratelimit.New(cfg.RateLimitDelay)

	workerCfg := worker.DefaultConfig()
	workerCfg.RequestTimeout = cfg.RequestTimeout
	workerCfg.UserAgent = cfg.UserAgent
	workerCfg.ExtractorConfig.AllowedContentTypes = allowedTypes
	workerCfg.ExtractorConfig.MaxBodySize = cfg.MaxPageSize
	fetcher := worker.New(workerCfg, robotsPolicy, limiter, log)

	var q queue.Queue
	var persist session.Persister
	var pgPool *pgxpool.Pool

	switch cfg.QueueBackend {
	case config.BackendDurable:
		pgPool, err = pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pgPool.Close()

		if _, err := pgPool.Exec(ctx, queue.Schema); err != nil {
			return fmt.Errorf("apply queue schema: %w", err)
		}
		if _, err := pgPool.Exec(ctx, persistence.Schema); err != nil {
			return fmt.Errorf("apply persistence schema: %w", err)
		}

		durableQueue := queue.NewDurableQueue(pgPool, sessionID, cfg.MaxDepth, cfg.MaxPages)
		q = durableQueue
		store := persistence.New(pgPool)
		persist = store

		if _, err := store.OpenSession(ctx, model.CrawlSession{
			ID: sessionID, Name: name, SeedURLs: seeds, MaxDepth: cfg.MaxDepth,
			MaxPages: cfg.MaxPages, WorkerCount: cfg.ConcurrentWorkers,
			RateLimitDelay: cfg.RateLimitDelay, UserAgent: cfg.UserAgent,
		}); err != nil {
			return fmt.Errorf("open session: %w", err)
		}

		rec := recovery.New(pgPool, durableQueue, sessionID, cfg.QueueRetention, cfg.MaxRetries, log)
		if _, err := rec.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("startup recovery pass failed")
		}

		recoveryCtx, stopRecovery := context.WithCancel(ctx)
		recoveryGroup, groupCtx := errgroup.WithContext(recoveryCtx)
		recoveryGroup.Go(func() error {
			rec.RunPeriodically(groupCtx, cfg.QueueRecoveryInterval)
			return nil
		})
		defer func() {
			stopRecovery()
			recoveryGroup.Wait()
		}()

	default:
		q = queue.NewMemoryQueue(cfg.MaxDepth, cfg.MaxPages)
		persist = &noopPersister{log: log}
	}

	workerPool := pool.New(pool.Config{
		WorkerCount:   cfg.ConcurrentWorkers,
		LeaseTimeout:  2 * time.Second,
		LeaseDuration: cfg.QueueLeaseDuration,
		MemoryLimitMB: cfg.MemoryLimitMB,
	}, q, fetcher, sessionID, log)

	sess := session.New(session.Config{
		MaxDepth:       cfg.MaxDepth,
		MaxPages:       cfg.MaxPages,
		SeedPriority:   10,
		LeaseTimeout:   2 * time.Second,
		LeaseDuration:  cfg.QueueLeaseDuration,
		BaseRetryDelay: cfg.RateLimitDelay,
		MaxRetryDelay:  time.Minute,
		MaxRetries:     cfg.MaxRetries,
		URLNorm:        urlnorm.DefaultConfig(),
	}, sessionID, q, workerPool, dedupFilter, persist, log)

	log.Info().Str("session_id", sessionID.String()).Strs("seeds", seeds).Msg("starting crawl")
	final := sess.Run(ctx, seeds)
	log.Info().Str("state", string(final)).Msg("crawl finished")
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// noopPersister backs the in-memory queue backend, which has no durable
// store of its own (spec §4.11: "in the in-memory backend it's best-effort
// within the process"). It discards writes rather than failing the session.
type noopPersister struct {
	log zerolog.Logger
}

func (n *noopPersister) OpenSession(ctx context.Context, s model.CrawlSession) (uuid.UUID, error) {
	return s.ID, nil
}

func (n *noopPersister) RecordPage(ctx context.Context, page model.Page, words map[string]int, links []model.Link) error {
	n.log.Info().Str("url", page.URL).Int("words", page.WordCount).Msg("page crawled")
	return nil
}

func (n *noopPersister) RecordError(ctx context.Context, sessionID uuid.UUID, url string, kind model.ErrorKind, message string) error {
	n.log.Warn().Str("url", url).Str("kind", string(kind)).Str("error", message).Msg("fetch error")
	return nil
}

func (n *noopPersister) RecordMetric(ctx context.Context, m model.SessionMetric) error { return nil }

func (n *noopPersister) CloseSession(ctx context.Context, sessionID uuid.UUID, state model.SessionState, firstFatalError string) error {
	n.log.Info().Str("state", string(state)).Msg("session closed")
	return nil
}
