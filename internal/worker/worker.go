// Package worker implements the per-URL fetch pipeline of spec §4.6:
// robots check, rate-limit acquire, HTTP GET, content-type/size gate,
// extraction, and analysis, producing one model.FetchResult. Grounded on
// the teacher's CheckURL/CheckURLWithRetry (src/crawler/worker.go,
// retry.go), generalized from the teacher's link-checker error taxonomy to
// the full crawl-engine taxonomy of spec §7.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gennadylaventman/crawler/internal/analyzer"
	"github.com/gennadylaventman/crawler/internal/extractor"
	"github.com/gennadylaventman/crawler/internal/model"
	"github.com/gennadylaventman/crawler/internal/ratelimit"
	"github.com/gennadylaventman/crawler/internal/robots"
)

// Config controls one worker's fetch behavior.
type Config struct {
	RequestTimeout  time.Duration
	UserAgent       string
	MaxRedirects    int
	ExtractorConfig extractor.Config
	AnalyzerConfig  analyzer.Config
}

// DefaultConfig mirrors the teacher's defaults (10s timeout, 10 redirects).
func DefaultConfig() Config {
	return Config{
		RequestTimeout:  10 * time.Second,
		UserAgent:       "crawler/1.0",
		MaxRedirects:    10,
		ExtractorConfig: extractor.DefaultConfig(),
		AnalyzerConfig:  analyzer.DefaultConfig(),
	}
}

// Fetcher runs the pipeline for a single QueuedURL.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	robots  *robots.Policy
	limiter *ratelimit.HostLimiter
	log     zerolog.Logger
}

func New(cfg Config, robotsPolicy *robots.Policy, limiter *ratelimit.HostLimiter, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		robots:  robotsPolicy,
		limiter: limiter,
		log:     log,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Fetch runs robots check, rate limiting, GET, content gate, extraction,
// and analysis for item, returning a fully populated FetchResult. It never
// returns a Go error itself — every failure mode is encoded in the
// result's ErrorKind per spec §7.
func (f *Fetcher) Fetch(ctx context.Context, item model.QueuedURL, sessionID uuid.UUID) model.FetchResult {
	res := model.FetchResult{
		SessionID: sessionID,
		URL:       item.URL,
		ParentURL: item.ParentURL,
		Depth:     item.Depth,
		Priority:  item.Priority,
		Attempts:  item.Attempts,
	}

	parsed, err := url.Parse(item.URL)
	if err != nil || parsed.Host == "" {
		res.ErrorKind = model.ErrInvalidURL
		res.ErrorMessage = fmt.Sprintf("invalid url: %v", err)
		return res
	}

	allowed, crawlDelay, err := f.robots.Allowed(ctx, item.URL, f.cfg.UserAgent)
	if err != nil {
		f.log.Warn().Err(err).Str("url", item.URL).Msg("robots check failed, treating as disallowed")
		res.ErrorKind = model.ErrDisallowedByRobots
		res.ErrorMessage = err.Error()
		return res
	}
	if !allowed {
		res.ErrorKind = model.ErrDisallowedByRobots
		res.ErrorMessage = "disallowed by robots.txt"
		return res
	}
	if crawlDelay > 0 {
		f.limiter.SetCrawlDelay(parsed.Host, crawlDelay)
	}

	if err := f.limiter.Acquire(ctx, parsed.Host); err != nil {
		res.ErrorKind = model.ErrCancelled
		res.ErrorMessage = err.Error()
		return res
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, redirectLoop, err := f.get(reqCtx, item.URL)
	if err != nil {
		res.ErrorKind, res.ErrorMessage = classifyNetworkError(err, redirectLoop)
		return res
	}
	defer resp.Body.Close()
	res.Timings.FirstByte = time.Since(start)
	res.HTTPStatus = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")

	if redirectLoop {
		res.ErrorKind = model.ErrNetworkReset
		res.ErrorMessage = "redirect loop detected"
		return res
	}
	if resp.StatusCode >= 500 {
		res.ErrorKind = model.ErrHTTPServerError
		res.ErrorMessage = fmt.Sprintf("server error: %d", resp.StatusCode)
		return res
	}
	if resp.StatusCode >= 400 {
		res.ErrorKind = model.ErrHTTPClientError
		res.ErrorMessage = fmt.Sprintf("client error: %d", resp.StatusCode)
		return res
	}

	if !extractor.ContentTypeAllowed(res.ContentType, f.cfg.ExtractorConfig) {
		res.ErrorKind = model.ErrDisallowedContentType
		res.ErrorMessage = fmt.Sprintf("content type %q not allowed", res.ContentType)
		return res
	}

	limited := io.LimitReader(resp.Body, f.cfg.ExtractorConfig.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		res.ErrorKind = model.ErrNetworkTimeout
		res.ErrorMessage = err.Error()
		return res
	}
	res.BodySize = int64(len(body))
	if res.BodySize > f.cfg.ExtractorConfig.MaxBodySize {
		res.ErrorKind = model.ErrBodyTooLarge
		res.ErrorMessage = fmt.Sprintf("body exceeds %d bytes", f.cfg.ExtractorConfig.MaxBodySize)
		return res
	}

	extractStart := time.Now()
	extracted := extractor.Extract(bytes.NewReader(body), parsed)
	res.Timings.Extract = time.Since(extractStart)
	if extracted.ParseErr != nil {
		res.ErrorKind = model.ErrParseError
		res.ErrorMessage = extracted.ParseErr.Error()
		return res
	}
	res.Title = extracted.Title
	res.ExtractedText = extracted.Text
	res.TextLength = len(extracted.Text)
	res.DiscoveredLinks = extracted.Links

	analyzeStart := time.Now()
	analyzed := analyzer.Analyze(extracted.Text, f.cfg.AnalyzerConfig)
	res.Timings.Analyze = time.Since(analyzeStart)
	res.WordFreq = analyzed.Frequencies
	res.WordCount = analyzed.WordCount
	res.UniqueWordCount = analyzed.UniqueCount

	return res
}

// get performs the GET with redirect-loop detection adapted from the
// teacher's loopClient.CheckRedirect closure.
func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, bool, error) {
	var isLoop bool
	var seen []string

	client := &http.Client{
		Timeout: f.cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			current := req.URL.String()
			for _, v := range seen {
				if v == current {
					isLoop = true
					return http.ErrUseLastResponse
				}
			}
			seen = append(seen, current)
			if len(via) >= f.cfg.MaxRedirects {
				isLoop = true
				return fmt.Errorf("stopped after %d redirects", f.cfg.MaxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, isLoop, err
	}
	return resp, isLoop, nil
}

// classifyNetworkError maps a transport-level error to the spec §7 taxonomy.
func classifyNetworkError(err error, redirectLoop bool) (model.ErrorKind, string) {
	if redirectLoop {
		return model.ErrNetworkReset, "redirect loop detected"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrNetworkTimeout, err.Error()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ErrDNSFailure, err.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return model.ErrNetworkTimeout, err.Error()
		}
		return model.ErrNetworkReset, err.Error()
	}
	return model.ErrNetworkReset, err.Error()
}
