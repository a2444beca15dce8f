// Package dedup implements the two-layer (probabilistic + exact) visited-URL
// membership test of spec §4.4: an in-memory bloom filter as a cheap,
// lossy pre-check, consulted on every call, and an exact set consulted only
// on bloom hits so a false positive never masks a genuinely new URL.
package dedup

import (
	"fmt"
	"os"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"
)

const shardCount = 32

// Filter is a per-session deduplication filter. The combined Add operation
// is linearizable with respect to itself: two concurrent callers racing to
// add the same URL never both observe "newly added" (spec §4.4).
type Filter struct {
	bloomMu sync.Mutex
	filter  *bloom.BloomFilter
	file    *os.File
	mmap    mmap.MMap
	tmpPath string

	shards [shardCount]shard
}

type shard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a Filter sized for maxPages entries at the given target
// false-positive rate (spec §4.4: "sized for the configured max pages with
// target false-positive rate ≤ 1%"). The bloom filter itself lives in process
// memory; New also writes a copy of the freshly created (empty) filter into a
// memory-mapped temp file, which later Adds do not update. The exact set
// grows with every new URL. Adapted from the teacher's crawler.VisitedTracker.
func New(maxPages int, falsePositiveRate float64) (*Filter, error) {
	if maxPages <= 0 {
		maxPages = 100_000
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = 0.01
	}
	filter := bloom.NewWithEstimates(uint(maxPages), falsePositiveRate)

	tmpFile, err := os.CreateTemp(os.TempDir(), "crawler-dedup-*.bloom")
	if err != nil {
		return nil, fmt.Errorf("dedup: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	size := int64(filter.Cap())
	if err := tmpFile.Truncate(size); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("dedup: truncate temp file: %w", err)
	}

	mapped, err := mmap.MapRegion(tmpFile, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("dedup: mmap temp file: %w", err)
	}

	data, err := filter.MarshalBinary()
	if err != nil {
		_ = mapped.Unmap()
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("dedup: marshal bloom filter: %w", err)
	}
	if len(data) > len(mapped) {
		_ = mapped.Unmap()
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("dedup: filter data (%d) exceeds mmap size (%d)", len(data), len(mapped))
	}
	copy(mapped, data)

	f := &Filter{filter: filter, file: tmpFile, mmap: mapped, tmpPath: tmpPath}
	for i := range f.shards {
		f.shards[i].seen = make(map[string]struct{})
	}
	return f, nil
}

func shardFor(url string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(url); i++ {
		h ^= uint32(url[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

// Add reports whether url was newly added to the session's visited set.
// Every URL added here, whether new or a repeat, marks the bloom filter so
// future bloom-only checks (IsVisited) reflect it.
func (f *Filter) Add(url string) bool {
	idx := shardFor(url)
	s := &f.shards[idx]

	s.mu.Lock()
	defer s.mu.Unlock()

	f.bloomMu.Lock()
	maybeSeen := f.filter.TestString(url)
	f.filter.AddString(url)
	f.bloomMu.Unlock()

	if maybeSeen {
		if _, exists := s.seen[url]; exists {
			return false
		}
	}

	s.seen[url] = struct{}{}
	return true
}

// IsVisited reports whether url has (probably) been visited, using only the
// cheap bloom layer. Callers that need a definitive answer should use Add's
// return value instead.
func (f *Filter) IsVisited(url string) bool {
	f.bloomMu.Lock()
	defer f.bloomMu.Unlock()
	return f.filter.TestString(url)
}

// Close releases the backing temp file.
func (f *Filter) Close() error {
	f.bloomMu.Lock()
	defer f.bloomMu.Unlock()

	var firstErr error
	if f.mmap != nil {
		if err := f.mmap.Unmap(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dedup: unmap: %w", err)
		}
		f.mmap = nil
	}
	if f.file != nil {
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dedup: close file: %w", err)
		}
		f.file = nil
	}
	if f.tmpPath != "" {
		if err := os.Remove(f.tmpPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("dedup: remove temp file: %w", err)
		}
		f.tmpPath = ""
	}
	return firstErr
}
