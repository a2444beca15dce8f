package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/gennadylaventman/crawler/internal/model"
)

// MemoryQueue is the in-memory Queue backend (spec §4.5.1): a priority
// structure ordered by the tie-break rule, plus a companion map for dedup
// and status lookup. No lease recovery is needed — the process holds the
// only copy — and unfinished work is lost on shutdown.
type MemoryQueue struct {
	maxDepth int
	maxPages int

	mu       sync.Mutex
	byURL    map[string]*model.QueuedURL
	heap     priorityHeap
	delayed  []*model.QueuedURL
	admitted int // total URLs ever accepted, for the page cap
	closed   bool
	notify   chan struct{}
}

// NewMemoryQueue creates an in-memory Queue. maxPages<=0 means unlimited.
func NewMemoryQueue(maxDepth, maxPages int) *MemoryQueue {
	return &MemoryQueue{
		maxDepth: maxDepth,
		maxPages: maxPages,
		byURL:    make(map[string]*model.QueuedURL),
		notify:   make(chan struct{}),
	}
}

func (q *MemoryQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(ctx context.Context, item model.QueuedURL) (model.EnqueueOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}
	if item.Depth > q.maxDepth {
		return model.DepthExceeded, nil
	}
	if _, exists := q.byURL[item.URL]; exists {
		return model.Duplicate, nil
	}
	if q.maxPages > 0 && q.admitted >= q.maxPages {
		return model.LimitReached, nil
	}

	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now()
	}
	item.Status = model.StatusPending
	entry := item
	q.byURL[entry.URL] = &entry
	q.admitted++

	if entry.NotBefore.After(time.Now()) {
		q.delayed = append(q.delayed, &entry)
	} else {
		heap.Push(&q.heap, &entry)
	}
	q.wakeLocked()
	return model.Accepted, nil
}

// promoteReadyLocked moves any delayed (backoff-scheduled) entries whose
// NotBefore has elapsed into the live heap.
func (q *MemoryQueue) promoteReadyLocked() {
	if len(q.delayed) == 0 {
		return
	}
	now := time.Now()
	remaining := q.delayed[:0]
	for _, e := range q.delayed {
		if e.NotBefore.IsZero() || !e.NotBefore.After(now) {
			heap.Push(&q.heap, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.delayed = remaining
}

func (q *MemoryQueue) Lease(ctx context.Context, timeout, leaseDuration time.Duration) (*model.QueuedURL, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.promoteReadyLocked()
		if q.heap.Len() > 0 {
			entry := heap.Pop(&q.heap).(*model.QueuedURL)
			entry.Status = model.StatusInFlight
			leasedUntil := time.Now().Add(leaseDuration)
			entry.LeasedUntil = &leasedUntil
			q.mu.Unlock()
			cp := *entry
			return &cp, nil
		}
		ch := q.notify
		q.mu.Unlock()

		waitCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			waitCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		select {
		case <-ch:
			if cancel != nil {
				cancel()
			}
			continue
		case <-waitCtx.Done():
			if cancel != nil {
				cancel()
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil // EMPTY: timeout elapsed
		}
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, url string, outcome model.URLStatus, lastErr string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byURL[url]
	if !ok {
		return nil
	}

	entry.LastError = lastErr
	entry.LeasedUntil = nil

	if outcome == model.StatusPending {
		entry.Attempts++
		entry.Status = model.StatusPending
		entry.NotBefore = notBefore
		if notBefore.After(time.Now()) {
			q.delayed = append(q.delayed, entry)
		} else {
			heap.Push(&q.heap, entry)
		}
		q.wakeLocked()
		return nil
	}

	entry.Status = outcome
	return nil
}

func (q *MemoryQueue) Release(ctx context.Context, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byURL[url]
	if !ok {
		return nil
	}
	entry.Attempts++
	entry.Status = model.StatusPending
	entry.LeasedUntil = nil
	heap.Push(&q.heap, entry)
	q.wakeLocked()
	return nil
}

func (q *MemoryQueue) Size(ctx context.Context) (Sizes, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Sizes
	for _, e := range q.byURL {
		switch e.Status {
		case model.StatusPending:
			s.Pending++
		case model.StatusInFlight:
			s.InFlight++
		default:
			s.Terminal++
		}
	}
	return s, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wakeLocked()
	}
	return nil
}

// priorityHeap orders by the spec §4.5 tie-break rule: higher priority
// first, then lower depth, then earlier discovery timestamp.
type priorityHeap []*model.QueuedURL

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.DiscoveredAt.Before(b.DiscoveredAt)
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*model.QueuedURL))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
