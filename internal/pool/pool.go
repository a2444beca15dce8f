// Package pool implements the worker pool of spec §4.4: a fixed-size set of
// goroutines leasing work from a queue.Queue and emitting model.FetchResult
// on a shared channel, with a four-state lifecycle and crash replacement.
// Grounded on the teacher's errgroup-based worker launch in
// src/crawler/crawler.go's Run method, generalized from a closed job channel
// to a pull-based queue.Queue.Lease loop, and its memory throttle on
// src/crawler/memory.go's MemoryWatcher.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/queue"
	"github.com/gennadylaventman/crawler/internal/worker"
)

// State is one of the pool's four lifecycle states (spec §4.4).
type State int32

const (
	Initialized State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config controls pool sizing and lease behavior.
type Config struct {
	WorkerCount   int
	LeaseTimeout  time.Duration
	LeaseDuration time.Duration
	MemoryLimitMB int64 // 0 disables throttling
}

// Pool runs Config.WorkerCount goroutines, each repeatedly leasing a
// model.QueuedURL from q, running it through fetcher, and sending the
// model.FetchResult to Results(). A crashed worker goroutine (panic
// recovered) is replaced with a fresh one while the pool is Running.
type Pool struct {
	cfg       Config
	q         queue.Queue
	fetcher   *worker.Fetcher
	sessionID uuid.UUID
	log       zerolog.Logger

	state   atomic.Int32
	results chan model.FetchResult
	mem     *MemoryWatcher
	wg      sync.WaitGroup
	stopCh  chan struct{}
	once    sync.Once
}

func New(cfg Config, q queue.Queue, fetcher *worker.Fetcher, sessionID uuid.UUID, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 10
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	p := &Pool{
		cfg:       cfg,
		q:         q,
		fetcher:   fetcher,
		sessionID: sessionID,
		log:       log,
		results:   make(chan model.FetchResult, cfg.WorkerCount*2),
		stopCh:    make(chan struct{}),
	}
	if cfg.MemoryLimitMB > 0 {
		p.mem = NewMemoryWatcher(cfg.MemoryLimitMB)
	}
	return p
}

// Results is the channel FetchResults are emitted on. It is closed once
// every worker goroutine has exited.
func (p *Pool) Results() <-chan model.FetchResult { return p.results }

// State reports the pool's current lifecycle state.
func (p *Pool) State() State { return State(p.state.Load()) }

// Start transitions INITIALIZED -> RUNNING and launches the worker
// goroutines. ctx cancellation (or Stop) moves the pool to DRAINING, and
// once every worker has exited it moves to STOPPED and closes Results().
func (p *Pool) Start(ctx context.Context) {
	if !p.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		return
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.launch(ctx)
	}
	go func() {
		p.wg.Wait()
		p.state.Store(int32(Stopped))
		close(p.results)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-p.stopCh:
		}
		p.state.CompareAndSwap(int32(Running), int32(Draining))
	}()
}

// Stop requests a graceful drain: workers finish their current lease and
// stop leasing new work.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stopCh) })
}

func (p *Pool) launch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("worker goroutine crashed, replacing")
				if p.State() == Running {
					p.launch(ctx)
				}
			}
		}()
		p.runLoop(ctx)
	}()
}

func (p *Pool) runLoop(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.mem != nil {
			if _, level := p.mem.Check(); level == ThrottleCritical {
				time.Sleep(200 * time.Millisecond)
				continue
			}
		}

		item, err := p.q.Lease(ctx, p.cfg.LeaseTimeout, p.cfg.LeaseDuration)
		if err != nil {
			return // context cancelled or queue closed
		}
		if item == nil {
			continue // EMPTY: no work ready within the timeout, poll again
		}

		result := p.fetcher.Fetch(ctx, *item, p.sessionID)
		select {
		case p.results <- result:
		case <-ctx.Done():
			return
		}
	}
}
