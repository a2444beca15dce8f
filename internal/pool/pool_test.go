package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/queue"
	"github.com/gennadylaventman/crawler/internal/ratelimit"
	"github.com/gennadylaventman/crawler/internal/robots"
	"github.com/gennadylaventman/crawler/internal/worker"
)

func TestPool_DrainsQueueIntoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello world</body></html>"))
	}))
	defer server.Close()

	q := queue.NewMemoryQueue(10, 0)
	for i := 0; i < 5; i++ {
		q.Enqueue(context.Background(), model.QueuedURL{URL: server.URL + "/p" + string(rune('0'+i))})
	}

	policy := robots.New(nil, time.Minute, 0, zerolog.Nop())
	limiter := ratelimit.New(0)
	fetcher := worker.New(worker.DefaultConfig(), policy, limiter, zerolog.Nop())

	p := New(Config{WorkerCount: 3, LeaseTimeout: 50 * time.Millisecond}, q, fetcher, uuid.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	received := 0
	timeout := time.After(3 * time.Second)
loop:
	for {
		select {
		case res, ok := <-p.Results():
			if !ok {
				break loop
			}
			if res.ErrorKind != model.ErrNone {
				t.Errorf("unexpected error result: %v %v", res.ErrorKind, res.ErrorMessage)
			}
			received++
			if received == 5 {
				p.Stop()
			}
		case <-timeout:
			t.Fatal("timed out waiting for results")
		}
	}
	cancel()

	if received != 5 {
		t.Errorf("received %d results, want 5", received)
	}
}

func TestPool_StateTransitions(t *testing.T) {
	q := queue.NewMemoryQueue(10, 0)
	policy := robots.New(nil, time.Minute, 0, zerolog.Nop())
	limiter := ratelimit.New(0)
	fetcher := worker.New(worker.DefaultConfig(), policy, limiter, zerolog.Nop())
	p := New(Config{WorkerCount: 1, LeaseTimeout: 20 * time.Millisecond}, q, fetcher, uuid.New(), zerolog.Nop())

	if p.State() != Initialized {
		t.Fatalf("State = %v, want Initialized", p.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	if p.State() != Running {
		t.Errorf("State after Start = %v, want Running", p.State())
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for p.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.State() != Stopped {
		t.Errorf("State after cancel = %v, want Stopped", p.State())
	}
}
