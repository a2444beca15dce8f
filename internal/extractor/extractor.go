// Package extractor turns an HTML response body into plain text, a title,
// and a set of outbound absolute URLs (spec §4.6). Link collection is
// adapted directly from the teacher's crawler.ExtractLinks tokenizer walk;
// text and title capture, and the content-type/size gates, are new.
package extractor

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Config controls extraction policy.
type Config struct {
	AllowedContentTypes map[string]struct{} // e.g. "text/html", "application/xhtml+xml"
	MaxBodySize         int64
}

// DefaultConfig allows the common HTML content types and caps bodies at 10MB.
func DefaultConfig() Config {
	return Config{
		AllowedContentTypes: map[string]struct{}{
			"text/html":             {},
			"application/xhtml+xml": {},
		},
		MaxBodySize: 10 << 20,
	}
}

// Result is the outcome of extracting one page.
type Result struct {
	Text      string
	Title     string
	Links     []string // absolute URLs, resolved against baseURL, in document order, deduplicated
	ParseErr  error    // non-nil if the HTML was malformed enough to downgrade to empty text/links
}

// skipTextTags lists elements whose text content must not be counted as
// page text (scripts, styles, and non-content metadata).
var skipTextTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
}

// ContentTypeAllowed reports whether contentType (as sent in a response
// header, possibly with a "; charset=" suffix) is on the configured
// allow-list.
func ContentTypeAllowed(contentType string, cfg Config) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	_, ok := cfg.AllowedContentTypes[ct]
	return ok
}

// Extract parses body as HTML and returns its text, title, and outbound
// links resolved against baseURL. Malformed HTML downgrades to an empty
// Result with ParseErr set, rather than failing the page outright (spec
// §4.6).
func Extract(body io.Reader, baseURL *url.URL) Result {
	tokenizer := html.NewTokenizer(body)
	seenLinks := make(map[string]struct{})
	var links []string
	var text strings.Builder
	var title string
	var skipDepth int // >0 while inside a skip-text element
	var inTitle bool
	var parseErrs []error

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			err := tokenizer.Err()
			var result Result
			if err != io.EOF {
				parseErrs = append(parseErrs, err)
			}
			if len(parseErrs) > 0 {
				result.ParseErr = fmt.Errorf("extractor: %d parse errors (first: %w)", len(parseErrs), parseErrs[0])
				return result
			}
			result.Text = strings.Join(strings.Fields(text.String()), " ")
			result.Title = strings.TrimSpace(title)
			result.Links = links
			return result

		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			name := strings.ToLower(token.Data)

			if _, skip := skipTextTags[name]; skip && tt == html.StartTagToken {
				skipDepth++
			}
			if name == "title" && tt == html.StartTagToken {
				inTitle = true
			}
			if name == "a" {
				for _, attr := range token.Attr {
					if attr.Key != "href" {
						continue
					}
					href := attr.Val
					if href == "" {
						continue
					}
					hrefURL, err := url.Parse(href)
					if err != nil {
						parseErrs = append(parseErrs, fmt.Errorf("parse href %q: %w", href, err))
						continue
					}
					resolved := baseURL.ResolveReference(hrefURL)
					scheme := strings.ToLower(resolved.Scheme)
					if scheme != "http" && scheme != "https" {
						continue
					}
					abs := resolved.String()
					if _, dup := seenLinks[abs]; !dup {
						seenLinks[abs] = struct{}{}
						links = append(links, abs)
					}
				}
			}

		case html.EndTagToken:
			token := tokenizer.Token()
			name := strings.ToLower(token.Data)
			if _, skip := skipTextTags[name]; skip && skipDepth > 0 {
				skipDepth--
			}
			if name == "title" {
				inTitle = false
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			raw := string(tokenizer.Text())
			if inTitle {
				title += raw
				continue
			}
			text.WriteString(raw)
			text.WriteByte(' ')
		}
	}
}
