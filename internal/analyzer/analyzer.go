// Package analyzer tokenizes extracted page text into word-frequency counts
// (spec §4.7). It has no teacher analog; built in the small-pure-function
// style of the teacher's urlutil package.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config controls tokenization policy.
type Config struct {
	MinWordLength int
	MaxWordLength int
	StopWords     map[string]struct{}
}

// DefaultConfig discards words shorter than 2 or longer than 45 characters
// and applies no stop-word filtering.
func DefaultConfig() Config {
	return Config{MinWordLength: 2, MaxWordLength: 45}
}

// Result is the outcome of analyzing one page's text.
type Result struct {
	Frequencies map[string]int
	WordCount   int // total words counted, after filtering
	UniqueCount int
}

// Analyze splits text on Unicode word boundaries (contiguous runs of
// letters and digits), lowercases each token, discards tokens outside the
// configured length bounds or present in the stop-word list, and
// accumulates counts. Deterministic given the same input and configuration
// (spec §4.7).
func Analyze(text string, cfg Config) Result {
	freq := make(map[string]int)
	total := 0

	for _, token := range splitWords(text) {
		word := strings.ToLower(token)
		n := utf8.RuneCountInString(word)
		if n < cfg.MinWordLength || (cfg.MaxWordLength > 0 && n > cfg.MaxWordLength) {
			continue
		}
		if cfg.StopWords != nil {
			if _, stop := cfg.StopWords[word]; stop {
				continue
			}
		}
		freq[word]++
		total++
	}

	return Result{Frequencies: freq, WordCount: total, UniqueCount: len(freq)}
}

// splitWords returns the maximal runs of letters/digits in s, in order.
func splitWords(s string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}
