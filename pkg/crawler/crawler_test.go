package crawler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sponsorscope/internal/worker"
	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/forge"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/retry"
	"sponsorscope/pkg/store"
)

// fakeFetcher serves canned listing pages with failure injection
type fakeFetcher struct {
	// followers[username] is the ordered list of pages
	followers map[string][][]forge.ProfileSummary
	sponsors  map[string][]*forge.SponsorListing

	// failures[key] > 0 fails that many fetches first; -1 fails always
	failures map[string]int
	failWith *errs.Error

	fetched []string // log of "source/username/page"
}

func pageKey(source, username string, page int) string {
	return fmt.Sprintf("%s/%s/%d", source, username, page)
}

func (f *fakeFetcher) fail(key string) error {
	n, ok := f.failures[key]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.failures[key] = n - 1
	}
	failErr := f.failWith
	if failErr == nil {
		failErr = &errs.Error{Type: errs.ErrorTypeServerError, Message: "server error", Code: 500}
	}
	return failErr
}

func (f *fakeFetcher) FetchFollowers(ctx context.Context, username string, page, perPage int) ([]forge.ProfileSummary, error) {
	key := pageKey(store.SourceFollowers, username, page)
	f.fetched = append(f.fetched, key)

	if err := f.fail(key); err != nil {
		return nil, err
	}

	pages := f.followers[username]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (f *fakeFetcher) FetchSponsors(ctx context.Context, username string, page, perPage int) (*forge.SponsorListing, error) {
	key := pageKey(store.SourceSponsors, username, page)
	f.fetched = append(f.fetched, key)

	if err := f.fail(key); err != nil {
		return nil, err
	}

	pages := f.sponsors[username]
	if page > len(pages) {
		return &forge.SponsorListing{Login: username}, nil
	}
	return pages[page-1], nil
}

// fakeSink collects submitted refresh jobs
type fakeSink struct {
	jobs []worker.RefreshJob
}

func (f *fakeSink) Submit(job worker.RefreshJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeSink) usernames() []string {
	names := make([]string, len(f.jobs))
	for i, j := range f.jobs {
		names[i] = j.Username
	}
	return names
}

func summaries(logins ...string) []forge.ProfileSummary {
	out := make([]forge.ProfileSummary, len(logins))
	for i, l := range logins {
		out[i] = forge.ProfileSummary{Login: l}
	}
	return out
}

func testCrawler(t *testing.T, fetcher *fakeFetcher, seeds []string, maxDepth int) (*Crawler, *fakeSink, *store.Store) {
	t.Helper()

	s, err := store.New(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sink := &fakeSink{}
	cfg := &config.CrawlConfig{
		Seeds:    seeds,
		MaxDepth: maxDepth,
		PageSize: 2,
	}

	c := New(fetcher, s, sink, cfg, logger.NewNopLogger())
	c.retryPolicy = func(ctx context.Context, log logger.Logger) *retry.Config {
		return &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: 0},
			RetryIf:     retry.DefaultRetryIf,
			Context:     ctx,
			Logger:      log,
		}
	}

	return c, sink, s
}

func TestCrawlDiscoversBreadthFirst(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
			"bob":   {summaries("dave")},
		},
		sponsors: map[string][]*forge.SponsorListing{
			"alice": {{Login: "alice", Sponsors: summaries("carol")}},
		},
		failures: map[string]int{},
	}

	c, sink, _ := testCrawler(t, fetcher, []string{"alice"}, 1)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	// Depth 1 nodes are refreshed but not expanded, so dave stays unseen.
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, sink.usernames())
	assert.Equal(t, 3, stats.Visited)
	assert.Equal(t, 3, stats.Enqueued)
}

func TestCrawlDeduplicatesAcrossListings(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
			"bob":   {summaries("alice")}, // cycle back to the seed
			"carol": {summaries("bob")},   // rediscovery
		},
		sponsors: map[string][]*forge.SponsorListing{
			"alice": {{Login: "alice", Sponsors: summaries("bob", "carol")}},
		},
		failures: map[string]int{},
	}

	c, sink, _ := testCrawler(t, fetcher, []string{"alice"}, 3)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	// Each user is refreshed exactly once despite the cycle.
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, sink.usernames())
}

func TestCrawlRetriesTransientPageFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
		},
		failures: map[string]int{
			pageKey(store.SourceFollowers, "alice", 1): 2,
		},
	}

	c, sink, _ := testCrawler(t, fetcher, []string{"alice"}, 1)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Failures)
	assert.Contains(t, sink.usernames(), "bob")
}

func TestCrawlResumesFromCursor(t *testing.T) {
	pages := map[string][][]forge.ProfileSummary{
		"alice": {
			summaries("b1", "b2"),
			summaries("b3", "b4"),
			summaries("b5"),
		},
	}

	fetcher := &fakeFetcher{
		followers: pages,
		failures: map[string]int{
			pageKey(store.SourceFollowers, "alice", 2): -1,
		},
	}

	c, sink, s := testCrawler(t, fetcher, []string{"alice"}, 1)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)

	// Page 1 succeeded, page 2 exhausted its retries: the cursor holds at 1.
	cursor, err := s.LoadCursor(store.SourceFollowers, "alice")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, 1, cursor.Page)
	assert.ElementsMatch(t, []string{"alice", "b1", "b2"}, sink.usernames())

	// Next cycle: the failure clears and the crawl resumes at page 2
	// without refetching page 1.
	fetcher2 := &fakeFetcher{followers: pages, failures: map[string]int{}}
	sink2 := &fakeSink{}
	c2 := New(fetcher2, s, sink2, c.cfg, logger.NewNopLogger())
	c2.retryPolicy = c.retryPolicy

	stats2, err := c2.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats2.Failures)

	assert.NotContains(t, fetcher2.fetched, pageKey(store.SourceFollowers, "alice", 1))
	assert.Contains(t, fetcher2.fetched, pageKey(store.SourceFollowers, "alice", 2))
	assert.Contains(t, fetcher2.fetched, pageKey(store.SourceFollowers, "alice", 3))

	// Only the pages beyond the cursor contribute new discoveries.
	assert.ElementsMatch(t, []string{"alice", "b3", "b4", "b5"}, sink2.usernames())

	// The exhausted listing's cursor is gone.
	cursor, err = s.LoadCursor(store.SourceFollowers, "alice")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestCrawlListingNotFoundIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
		},
		failures: map[string]int{
			pageKey(store.SourceSponsors, "alice", 1): -1,
		},
		failWith: &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: 404},
	}

	c, sink, _ := testCrawler(t, fetcher, []string{"alice"}, 1)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Failures)
	assert.ElementsMatch(t, []string{"alice", "bob"}, sink.usernames())
}

func TestCrawlAbortsOnAuthFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
		},
		failures: map[string]int{
			pageKey(store.SourceFollowers, "alice", 1): -1,
		},
		failWith: &errs.Error{Type: errs.ErrorTypeAuth, Message: "bad credentials", Code: 401},
	}

	c, _, _ := testCrawler(t, fetcher, []string{"alice"}, 1)

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestCrawlStopsOnContextCancellation(t *testing.T) {
	fetcher := &fakeFetcher{
		followers: map[string][][]forge.ProfileSummary{
			"alice": {summaries("bob")},
		},
		failures: map[string]int{},
	}

	c, _, _ := testCrawler(t, fetcher, []string{"alice"}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
