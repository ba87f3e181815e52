package crawler

import (
	"context"
	"errors"
	"sync"

	"sponsorscope/internal/worker"
	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/forge"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/retry"
	"sponsorscope/pkg/store"
)

// ListingFetcher is the platform API surface the crawler needs.
// *forge.Client satisfies this.
type ListingFetcher interface {
	FetchFollowers(ctx context.Context, username string, page, perPage int) ([]forge.ProfileSummary, error)
	FetchSponsors(ctx context.Context, username string, page, perPage int) (*forge.SponsorListing, error)
}

// CursorStore persists per-listing crawl progress. *store.Store satisfies this.
type CursorStore interface {
	SaveCursor(c *store.Cursor) error
	LoadCursor(source, username string) (*store.Cursor, error)
	DeleteCursor(source, username string) error
}

// Enqueuer accepts refresh jobs for discovered users. *worker.Pool
// satisfies this.
type Enqueuer interface {
	Submit(job worker.RefreshJob) error
}

// ErrAuthExpired aborts a crawl cycle when the API token stops working.
// Continuing would burn the retry budget on every remaining listing.
var ErrAuthExpired = errors.New("crawl aborted: platform credentials rejected")

// Stats summarises one crawl cycle
type Stats struct {
	Visited   int
	Enqueued  int
	PagesRead int
	Failures  int
}

// Crawler walks the follower and sponsor graphs breadth-first from the
// configured seeds, enqueueing every discovered user for refresh. Progress
// through each paginated listing is cursored so an interrupted cycle
// resumes instead of restarting.
type Crawler struct {
	forge   ListingFetcher
	cursors CursorStore
	sink    Enqueuer
	cfg     *config.CrawlConfig
	logger  logger.Logger

	// retryPolicy builds the per-listing retry configuration. Replaced in
	// tests to avoid real backoff delays.
	retryPolicy func(ctx context.Context, log logger.Logger) *retry.Config

	mu      sync.Mutex
	visited map[string]bool
}

// pageResult is one fetched listing page
type pageResult struct {
	logins  []string
	hasMore bool
}

// node is one BFS queue entry
type node struct {
	username string
	depth    int
}

// New creates a crawler
func New(fetcher ListingFetcher, cursors CursorStore, sink Enqueuer, cfg *config.CrawlConfig, log logger.Logger) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Crawler{
		forge:       fetcher,
		cursors:     cursors,
		sink:        sink,
		cfg:         cfg,
		logger:      log,
		retryPolicy: retry.CrawlConfig,
		visited:     make(map[string]bool),
	}
}

// Run walks the graph from the seeds. Listing failures are contained to
// their listing and left resumable; an auth failure or context cancellation
// aborts the cycle.
func (c *Crawler) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queue := make([]node, 0, len(c.cfg.Seeds))
	for _, seed := range c.cfg.Seeds {
		if c.markVisited(seed) {
			queue = append(queue, node{username: seed, depth: 0})
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n := queue[0]
		queue = queue[1:]
		stats.Visited++

		if err := c.sink.Submit(worker.RefreshJob{Username: n.username, Depth: n.depth}); err != nil {
			return stats, err
		}
		stats.Enqueued++

		if n.depth >= c.cfg.MaxDepth {
			continue
		}

		for _, source := range []string{store.SourceFollowers, store.SourceSponsors} {
			discovered, err := c.crawlListing(ctx, source, n.username, stats)
			if err != nil {
				var apiErr *errs.Error
				if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeAuth {
					c.logger.WithError(err).Error("platform credentials rejected, aborting cycle")
					return stats, ErrAuthExpired
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return stats, err
				}

				// The cursor was not advanced past the failing page, so
				// the next cycle resumes this listing where it stopped.
				stats.Failures++
				c.logger.WarnWithFields("listing abandoned for this cycle", map[string]interface{}{
					"source":   source,
					"username": n.username,
					"error":    err.Error(),
				})
				continue
			}

			for _, username := range discovered {
				if c.markVisited(username) {
					queue = append(queue, node{username: username, depth: n.depth + 1})
				}
			}
		}
	}

	c.logger.InfoWithFields("crawl cycle finished", map[string]interface{}{
		"visited":    stats.Visited,
		"enqueued":   stats.Enqueued,
		"pages_read": stats.PagesRead,
		"failures":   stats.Failures,
	})
	return stats, nil
}

// crawlListing pages through one user's listing from its cursor, returning
// every discovered login. The cursor is advanced only after a page succeeds
// and deleted once the listing is exhausted.
func (c *Crawler) crawlListing(ctx context.Context, source, username string, stats *Stats) ([]string, error) {
	page := 1
	depth := 0
	if cursor, err := c.cursors.LoadCursor(source, username); err != nil {
		return nil, err
	} else if cursor != nil {
		page = cursor.Page + 1
		depth = cursor.Depth
	}

	var discovered []string
	retryCfg := c.retryPolicy(ctx, c.logger)
	if c.cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = c.cfg.MaxRetries
	}

	for {
		result, err := retry.DoWithResult(func() (pageResult, error) {
			return c.fetchPage(ctx, source, username, page)
		}, retryCfg)
		if err != nil {
			var apiErr *errs.Error
			if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeNotFound {
				// Listing owner vanished; nothing left to resume.
				if delErr := c.cursors.DeleteCursor(source, username); delErr != nil {
					return discovered, delErr
				}
				return discovered, nil
			}
			return discovered, err
		}

		stats.PagesRead++
		discovered = append(discovered, result.logins...)

		if err := c.cursors.SaveCursor(&store.Cursor{
			Source:   source,
			Username: username,
			Page:     page,
			Depth:    depth,
		}); err != nil {
			return discovered, err
		}

		if !result.hasMore {
			if err := c.cursors.DeleteCursor(source, username); err != nil {
				return discovered, err
			}
			return discovered, nil
		}
		page++
	}
}

// fetchPage retrieves one listing page and reports whether more follow
func (c *Crawler) fetchPage(ctx context.Context, source, username string, page int) (pageResult, error) {
	switch source {
	case store.SourceSponsors:
		listing, err := c.forge.FetchSponsors(ctx, username, page, c.cfg.PageSize)
		if err != nil {
			return pageResult{}, err
		}
		logins := make([]string, 0, len(listing.Sponsors))
		for _, s := range listing.Sponsors {
			logins = append(logins, s.Login)
		}
		return pageResult{logins: logins, hasMore: listing.HasNext}, nil

	default:
		followers, err := c.forge.FetchFollowers(ctx, username, page, c.cfg.PageSize)
		if err != nil {
			return pageResult{}, err
		}
		logins := make([]string, 0, len(followers))
		for _, f := range followers {
			logins = append(logins, f.Login)
		}
		return pageResult{logins: logins, hasMore: len(followers) == c.cfg.PageSize}, nil
	}
}

// markVisited records a username in the visited set, reporting whether it
// was new
func (c *Crawler) markVisited(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.visited[username] {
		return false
	}
	c.visited[username] = true
	return true
}
