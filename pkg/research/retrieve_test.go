package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestDedupIsStable(t *testing.T) {
	in := []SearchResult{{URL: "a", Title: "first"}, {URL: "b"}, {URL: "a", Title: "second"}}
	want := []SearchResult{{URL: "a", Title: "first"}, {URL: "b"}}

	if diff := cmp.Diff(want, Dedup(in)); diff != "" {
		t.Errorf("Dedup() mismatch (-want +got):\n%s", diff)
	}
}

type countingRetriever struct {
	mu     sync.Mutex
	calls  []string
	limits []int
	fn     func(query string) ([]SearchResult, error)
}

func (c *countingRetriever) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, query)
	c.limits = append(c.limits, maxResults)
	c.mu.Unlock()
	return c.fn(query)
}

func TestRetrieveOrderFollowsQueries(t *testing.T) {
	defer goleak.VerifyNone(t)

	// The first query finishes last.
	r := &countingRetriever{fn: func(q string) ([]SearchResult, error) {
		if q == "q1" {
			time.Sleep(20 * time.Millisecond)
		}
		return []SearchResult{{URL: q + "-1"}, {URL: "shared"}}, nil
	}}

	s := NewSearcher(r, 3)
	got := s.Retrieve(context.Background(), []string{"q1", "q2"}, 5, nil)

	want := []SearchResult{{URL: "q1-1"}, {URL: "shared"}, {URL: "q2-1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Retrieve() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{5, 5}, r.limits)
}

func TestRetrieveSwallowsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &countingRetriever{fn: func(q string) ([]SearchResult, error) {
		if q == "bad" {
			return nil, errors.New("timeout")
		}
		return []SearchResult{{URL: q}}, nil
	}}

	got := NewSearcher(r, 0).Retrieve(context.Background(), []string{"a", "bad", "c"}, 3, nil)
	assert.Equal(t, []SearchResult{{URL: "a"}, {URL: "c"}}, got)
	assert.Len(t, r.calls, 3)
}

func TestRetrieveCapsAndReportsProgress(t *testing.T) {
	r := &countingRetriever{fn: func(q string) ([]SearchResult, error) {
		return []SearchResult{{URL: q + "1"}, {URL: q + "2"}, {URL: q + "3"}}, nil
	}}

	var progress []Progress
	var searchedBefore []int
	got := NewSearcher(r, 1).Retrieve(context.Background(), []string{"x", "y"}, 2, func(p Progress) {
		r.mu.Lock()
		searchedBefore = append(searchedBefore, len(r.calls))
		r.mu.Unlock()
		progress = append(progress, p)
	})

	assert.Len(t, got, 4, "providers returning too much are trimmed to the cap")
	assert.Equal(t, []Progress{{Index: 1, Total: 2, Query: "x"}, {Index: 2, Total: 2, Query: "y"}}, progress)
	assert.Equal(t, []int{0, 1}, searchedBefore, "progress follows dispatch when searches run one at a time")
}

func TestRetrieveDeepScenario(t *testing.T) {
	// Three sub-queries, two results each, one URL shared between two of them.
	results := map[string][]SearchResult{
		"q1": {{URL: "u1"}, {URL: "u2"}},
		"q2": {{URL: "u3"}, {URL: "u2"}},
		"q3": {{URL: "u4"}, {URL: "u5"}},
	}
	r := RetrieverFunc(func(ctx context.Context, q string, n int) ([]SearchResult, error) {
		return results[q], nil
	})

	got := NewSearcher(r, 3).Retrieve(context.Background(), []string{"q1", "q2", "q3"}, 5, nil)
	assert.Len(t, got, 5)

	seen := map[string]bool{}
	for _, res := range got {
		assert.False(t, seen[res.URL], "duplicate url %s", res.URL)
		seen[res.URL] = true
	}
}

func TestRetrieveStopsDispatchWhenCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &countingRetriever{fn: func(q string) ([]SearchResult, error) {
		return []SearchResult{{URL: q}}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var progress []Progress
	got := NewSearcher(r, 1).Retrieve(ctx, []string{"a", "b"}, 3, func(p Progress) {
		progress = append(progress, p)
	})
	assert.Empty(t, got)
	assert.Empty(t, progress)
	assert.Empty(t, r.calls)
}
