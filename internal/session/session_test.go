package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/dedup"
	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/pool"
	"github.com/gennadylaventman/crawler/internal/queue"
	"github.com/gennadylaventman/crawler/internal/ratelimit"
	"github.com/gennadylaventman/crawler/internal/robots"
	"github.com/gennadylaventman/crawler/internal/urlnorm"
	"github.com/gennadylaventman/crawler/internal/worker"
)

// fakeStore is an in-memory Persister recording what the session would have
// written, since Store itself requires a live Postgres connection.
type fakeStore struct {
	mu       sync.Mutex
	pages    []model.Page
	errors   []string
	closedAs model.SessionState
}

func (f *fakeStore) OpenSession(ctx context.Context, s model.CrawlSession) (uuid.UUID, error) {
	return s.ID, nil
}

func (f *fakeStore) RecordPage(ctx context.Context, page model.Page, words map[string]int, links []model.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	return nil
}

func (f *fakeStore) RecordError(ctx context.Context, sessionID uuid.UUID, url string, kind model.ErrorKind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, url)
	return nil
}

func (f *fakeStore) RecordMetric(ctx context.Context, m model.SessionMetric) error { return nil }

func (f *fakeStore) CloseSession(ctx context.Context, sessionID uuid.UUID, state model.SessionState, firstFatalError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAs = state
	return nil
}

func (f *fakeStore) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}

// TestRun_S1SinglePageCrawl matches spec §8 scenario S1: a single page with
// no outbound links should crawl to completion with one recorded page.
func TestRun_S1SinglePageCrawl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello hello world</body></html>"))
	}))
	defer server.Close()

	store := &fakeStore{}
	sess := buildSession(t, store, 5, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final := sess.Run(ctx, []string{server.URL + "/"})

	if final != model.SessionCompleted {
		t.Fatalf("final state = %v, want COMPLETED", final)
	}
	if store.pageCount() != 1 {
		t.Errorf("pageCount = %d, want 1", store.pageCount())
	}
	if store.closedAs != model.SessionCompleted {
		t.Errorf("closedAs = %v, want COMPLETED", store.closedAs)
	}
}

// TestRun_FollowsDiscoveredLinks matches spec §8 scenario S2: a page linking
// to one more internal page should crawl both.
func TestRun_FollowsDiscoveredLinks(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/child">child</a></body></html>`))
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>leaf page</body></html>`))
	})
	server := httptest.NewServer(&mux)
	defer server.Close()

	store := &fakeStore{}
	sess := buildSession(t, store, 5, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final := sess.Run(ctx, []string{server.URL + "/"})

	if final != model.SessionCompleted {
		t.Fatalf("final state = %v, want COMPLETED", final)
	}
	if store.pageCount() != 2 {
		t.Errorf("pageCount = %d, want 2", store.pageCount())
	}
}

// TestRun_MaxPagesStopsEarly matches spec §8 scenario S3: a page limit below
// the reachable page count terminates the crawl without visiting everything.
func TestRun_MaxPagesStopsEarly(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	for _, path := range []string{"/a", "/b", "/c"} {
		path := path
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body>leaf</body></html>`))
		})
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></body></html>`))
	})
	server := httptest.NewServer(&mux)
	defer server.Close()

	store := &fakeStore{}
	sess := buildSession(t, store, 5, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final := sess.Run(ctx, []string{server.URL + "/"})

	if final != model.SessionCompleted {
		t.Fatalf("final state = %v, want COMPLETED", final)
	}
	if store.pageCount() > 2 {
		t.Errorf("pageCount = %d, want at most 2 (MaxPages)", store.pageCount())
	}
}

// TestRun_RetryExhaustionFails matches spec §3/§7: a host that always
// returns a retryable server error must stop retrying once attempts exceed
// MaxRetries, rather than cycling PENDING/IN_FLIGHT forever.
func TestRun_RetryExhaustionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := &fakeStore{}
	sess := buildSessionWithRetries(t, store, 5, 0, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final := sess.Run(ctx, []string{server.URL + "/"})

	if final != model.SessionCompleted {
		t.Fatalf("final state = %v, want COMPLETED", final)
	}
	if store.pageCount() != 0 {
		t.Errorf("pageCount = %d, want 0", store.pageCount())
	}
	sizes, err := sess.q.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sizes.Pending != 0 || sizes.InFlight != 0 {
		t.Errorf("sizes = %+v, want 0 pending and 0 in-flight (terminal FAILED)", sizes)
	}
}

func buildSession(t *testing.T, store Persister, maxDepth, maxPages int) *Session {
	t.Helper()
	return buildSessionWithRetries(t, store, maxDepth, maxPages, 3)
}

func buildSessionWithRetries(t *testing.T, store Persister, maxDepth, maxPages, maxRetries int) *Session {
	t.Helper()

	q := queue.NewMemoryQueue(maxDepth, maxPages)
	df, err := dedup.New(1000, 0.01)
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	t.Cleanup(func() { df.Close() })

	policy := robots.New(nil, time.Minute, 0, zerolog.Nop())
	limiter := ratelimit.New(0)
	fetcher := worker.New(worker.DefaultConfig(), policy, limiter, zerolog.Nop())

	// httptest servers listen on loopback, which DefaultConfig denies.
	norm := urlnorm.DefaultConfig()
	norm.DeniedIPRanges = nil

	sessionID := uuid.New()
	p := pool.New(pool.Config{WorkerCount: 3, LeaseTimeout: 30 * time.Millisecond}, q, fetcher, sessionID, zerolog.Nop())

	cfg := Config{
		MaxDepth:       maxDepth,
		MaxPages:       maxPages,
		SeedPriority:   10,
		LeaseTimeout:   30 * time.Millisecond,
		LeaseDuration:  time.Minute,
		BaseRetryDelay: 5 * time.Millisecond,
		MaxRetryDelay:  20 * time.Millisecond,
		MaxRetries:     maxRetries,
		URLNorm:        norm,
	}
	return New(cfg, sessionID, q, p, df, store, zerolog.Nop())
}
