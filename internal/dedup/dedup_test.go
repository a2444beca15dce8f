package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestAdd_FirstTimeTrueSecondTimeFalse(t *testing.T) {
	f, err := New(1000, 0.01)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	if !f.Add("http://example.com/a") {
		t.Error("expected first Add to return true")
	}
	if f.Add("http://example.com/a") {
		t.Error("expected second Add of the same URL to return false")
	}
}

func TestAdd_ConcurrentSameURL_OnlyOneWinner(t *testing.T) {
	f, err := New(1000, 0.01)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	const workers = 50
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Add("http://example.com/race")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winner among %d concurrent Add calls, got %d", workers, wins)
	}
}

func TestAdd_DistinctURLsAllNew(t *testing.T) {
	f, err := New(1000, 0.01)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	for i := 0; i < 100; i++ {
		url := fmt.Sprintf("http://example.com/%d", i)
		if !f.Add(url) {
			t.Errorf("expected %s to be newly added", url)
		}
	}
}

func TestIsVisited(t *testing.T) {
	f, err := New(1000, 0.01)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	if f.IsVisited("http://example.com/unseen") {
		t.Error("did not expect an unseen URL to report visited")
	}
	f.Add("http://example.com/seen")
	if !f.IsVisited("http://example.com/seen") {
		t.Error("expected a seen URL to report visited")
	}
}
