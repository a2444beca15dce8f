package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/ratelimit"
	"github.com/gennadylaventman/crawler/internal/robots"
)

func testFetcher() *Fetcher {
	policy := robots.New(nil, time.Minute, 0, zerolog.Nop())
	limiter := ratelimit.New(0)
	return New(DefaultConfig(), policy, limiter, zerolog.Nop())
}

func TestFetch_SuccessExtractsAndAnalyzes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><head><title>Hi</title></head><body><a href="/next">go</a>hello hello world</body></html>`))
		}
	}))
	defer server.Close()

	f := testFetcher()
	item := model.QueuedURL{URL: server.URL + "/"}
	res := f.Fetch(context.Background(), item, uuid.New())

	if res.ErrorKind != model.ErrNone {
		t.Fatalf("ErrorKind = %v, ErrorMessage = %v", res.ErrorKind, res.ErrorMessage)
	}
	if res.Title != "Hi" {
		t.Errorf("Title = %q, want Hi", res.Title)
	}
	if res.WordFreq["hello"] != 2 || res.WordFreq["world"] != 1 {
		t.Errorf("WordFreq = %v", res.WordFreq)
	}
	if len(res.DiscoveredLinks) != 1 {
		t.Errorf("DiscoveredLinks = %v, want 1 link", res.DiscoveredLinks)
	}
}

func TestFetch_DisallowedByRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		w.Write([]byte("should not be fetched"))
	}))
	defer server.Close()

	f := testFetcher()
	res := f.Fetch(context.Background(), model.QueuedURL{URL: server.URL + "/page"}, uuid.New())

	if res.ErrorKind != model.ErrDisallowedByRobots {
		t.Errorf("ErrorKind = %v, want ErrDisallowedByRobots", res.ErrorKind)
	}
}

func TestFetch_ServerErrorClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := testFetcher()
	res := f.Fetch(context.Background(), model.QueuedURL{URL: server.URL + "/"}, uuid.New())

	if res.ErrorKind != model.ErrHTTPServerError {
		t.Errorf("ErrorKind = %v, want ErrHTTPServerError", res.ErrorKind)
	}
	if res.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d", res.HTTPStatus)
	}
}

func TestFetch_ClientErrorClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := testFetcher()
	res := f.Fetch(context.Background(), model.QueuedURL{URL: server.URL + "/missing"}, uuid.New())

	if res.ErrorKind != model.ErrHTTPClientError {
		t.Errorf("ErrorKind = %v, want ErrHTTPClientError", res.ErrorKind)
	}
}

func TestFetch_DisallowedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	f := testFetcher()
	res := f.Fetch(context.Background(), model.QueuedURL{URL: server.URL + "/"}, uuid.New())

	if res.ErrorKind != model.ErrDisallowedContentType {
		t.Errorf("ErrorKind = %v, want ErrDisallowedContentType", res.ErrorKind)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	f := testFetcher()
	res := f.Fetch(context.Background(), model.QueuedURL{URL: "://not-a-url"}, uuid.New())
	if res.ErrorKind != model.ErrInvalidURL {
		t.Errorf("ErrorKind = %v, want ErrInvalidURL", res.ErrorKind)
	}
}
