// Package model holds the shared domain types passed between the queue,
// worker pool, session, and persistence layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the terminal (or running) state of a CrawlSession.
type SessionState string

const (
	SessionRunning   SessionState = "RUNNING"
	SessionCompleted SessionState = "COMPLETED"
	SessionFailed    SessionState = "FAILED"
	SessionCancelled SessionState = "CANCELLED"
)

// CrawlSession is the identity and immutable configuration of one crawl run.
type CrawlSession struct {
	ID               uuid.UUID
	Name             string
	SeedURLs         []string
	MaxDepth         int
	MaxPages         int
	WorkerCount      int
	RateLimitDelay   time.Duration
	UserAgent        string
	StartedAt        time.Time
	EndedAt          time.Time
	State            SessionState
	FirstFatalError  string
}

// URLStatus is the lifecycle state of a QueuedURL.
type URLStatus string

const (
	StatusPending   URLStatus = "PENDING"
	StatusInFlight  URLStatus = "IN_FLIGHT"
	StatusDone      URLStatus = "DONE"
	StatusFailed    URLStatus = "FAILED"
	StatusSkipped   URLStatus = "SKIPPED"
)

// QueuedURL is one pending or in-flight work item in the URL Queue.
type QueuedURL struct {
	SessionID    uuid.UUID
	URL          string
	ParentURL    string
	Depth        int
	Priority     int
	DiscoveredAt time.Time
	Attempts     int
	LastError    string
	Status       URLStatus
	LeasedUntil  *time.Time
	NotBefore    time.Time
}

// EnqueueOutcome is the result of a Queue.Enqueue call.
type EnqueueOutcome string

const (
	Accepted       EnqueueOutcome = "ACCEPTED"
	Duplicate      EnqueueOutcome = "DUPLICATE"
	DepthExceeded  EnqueueOutcome = "DEPTH_EXCEEDED"
	LimitReached   EnqueueOutcome = "LIMIT_REACHED"
)

// ErrorKind classifies a FetchResult's failure per the error taxonomy.
type ErrorKind string

const (
	ErrNone                   ErrorKind = ""
	ErrInvalidURL             ErrorKind = "INVALID_URL"
	ErrDisallowedByRobots     ErrorKind = "DISALLOWED_BY_ROBOTS"
	ErrDisallowedContentType  ErrorKind = "DISALLOWED_CONTENT_TYPE"
	ErrBodyTooLarge           ErrorKind = "BODY_TOO_LARGE"
	ErrHTTPClientError        ErrorKind = "HTTP_CLIENT_ERROR"
	ErrHTTPServerError        ErrorKind = "HTTP_SERVER_ERROR"
	ErrNetworkTimeout         ErrorKind = "NETWORK_TIMEOUT"
	ErrNetworkReset           ErrorKind = "NETWORK_RESET"
	ErrDNSFailure             ErrorKind = "DNS_FAILURE"
	ErrParseError             ErrorKind = "PARSE_ERROR"
	ErrPersistenceError       ErrorKind = "PERSISTENCE_ERROR"
	ErrCancelled              ErrorKind = "CANCELLED"
)

// Retryable reports whether this error kind should be retried, per spec §7.
// statusCode is consulted only for ErrHTTPClientError (408/429 retry; other
// 4xx do not).
func (k ErrorKind) Retryable(statusCode int) bool {
	switch k {
	case ErrHTTPServerError, ErrNetworkTimeout, ErrNetworkReset, ErrDNSFailure:
		return true
	case ErrHTTPClientError:
		return statusCode == 408 || statusCode == 429
	default:
		return false
	}
}

// Timings captures the per-step duration breakdown of one fetch pipeline run.
type Timings struct {
	DNS     time.Duration
	Connect time.Duration
	FirstByte time.Duration
	Parse   time.Duration
	Extract time.Duration
	Analyze time.Duration
	Persist time.Duration
}

// FetchResult is the outcome a worker emits for one URL.
type FetchResult struct {
	SessionID        uuid.UUID
	URL              string
	ParentURL        string
	Depth            int
	Priority         int
	Attempts         int
	HTTPStatus       int
	ContentType      string
	BodySize         int64
	Timings          Timings
	ExtractedText    string
	TextLength       int
	WordFreq         map[string]int
	WordCount        int
	UniqueWordCount  int
	DiscoveredLinks  []string
	Title            string
	ErrorKind        ErrorKind
	ErrorMessage     string
}

// Outcome classifies how a FetchResult should move the owning QueuedURL.
func (r *FetchResult) Outcome() URLStatus {
	switch {
	case r.ErrorKind == ErrNone:
		return StatusDone
	case r.ErrorKind == ErrDisallowedByRobots:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// LinkKind classifies a discovered link relative to its source host.
type LinkKind string

const (
	LinkInternal LinkKind = "INTERNAL"
	LinkExternal LinkKind = "EXTERNAL"
)

// Link is one outbound edge discovered on a page.
type Link struct {
	SessionID uuid.UUID
	SourceURL string
	DestURL   string
	Kind      LinkKind
}

// Page is the persisted record of one successful fetch.
type Page struct {
	SessionID       uuid.UUID
	URL             string
	FinalURL        string
	HTTPStatus      int
	ContentType     string
	Title           string
	TextLength      int
	WordCount       int
	UniqueWordCount int
	Timings         Timings
	CrawledAt       time.Time
}

// SessionMetric is a periodic performance snapshot for a session.
type SessionMetric struct {
	SessionID     uuid.UUID
	Timestamp     time.Time
	PagesCrawled  int
	BytesProcessed int64
	Errors        int
	PagesPerSec   float64
	BytesPerSec   float64
	InFlight      int
	QueueLength   int
}
