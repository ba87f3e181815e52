package aggregate

import (
	"context"
	"fmt"
	"sort"

	"sponsorscope/pkg/config"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/store"
)

// AggregateStore is the persistence surface the engine needs.
// *store.Store satisfies this.
type AggregateStore interface {
	ListEarningsInputs() ([]store.EarningsInput, error)
	UpdateEarnings(userID int64, earnings float64) error
	MaterializeRanks() error
}

// Summary reports one aggregation pass
type Summary struct {
	UsersUpdated int
	MedianTier   float64
}

// Engine recomputes estimated earnings and the leaderboard ranks. The
// estimate is a deliberate lower bound: per-sponsor amounts are private, so
// each sponsor is valued at no more than the corpus-median cheapest tier.
type Engine struct {
	store  AggregateStore
	cfg    *config.EarningsConfig
	logger logger.Logger
}

// NewEngine creates an aggregation engine
func NewEngine(s AggregateStore, cfg *config.EarningsConfig, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{store: s, cfg: cfg, logger: log}
}

// Run recomputes every active user's estimate, then materializes ranks
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	inputs, err := e.store.ListEarningsInputs()
	if err != nil {
		return nil, err
	}

	median := MedianTierCost(inputs)
	if median <= 0 {
		median = e.cfg.FallbackTierCost
	}

	summary := &Summary{MedianTier: median}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		earnings := EstimateEarnings(in.MinSponsorCost, median, in.TotalSponsors)
		if err := e.store.UpdateEarnings(in.ID, earnings); err != nil {
			return summary, fmt.Errorf("failed to update %s: %w", in.Login, err)
		}
		summary.UsersUpdated++
	}

	if err := e.store.MaterializeRanks(); err != nil {
		return summary, err
	}

	e.logger.InfoWithFields("aggregation pass complete", map[string]interface{}{
		"users_updated": summary.UsersUpdated,
		"median_tier":   summary.MedianTier,
	})
	return summary, nil
}

// MedianTierCost computes the median of the positive published minimum tier
// costs. Users publishing no tiers do not dilute the median.
func MedianTierCost(inputs []store.EarningsInput) float64 {
	costs := make([]float64, 0, len(inputs))
	for _, in := range inputs {
		if in.MinSponsorCost > 0 {
			costs = append(costs, in.MinSponsorCost)
		}
	}
	if len(costs) == 0 {
		return 0
	}

	sort.Float64s(costs)
	mid := len(costs) / 2
	if len(costs)%2 == 1 {
		return costs[mid]
	}
	return (costs[mid-1] + costs[mid]) / 2
}

// EstimateEarnings values each sponsor at the user's cheapest published
// tier, capped at the corpus median so outlier tiers cannot inflate the
// estimate. A user with no published tier is valued at the median.
func EstimateEarnings(minTierCost, median float64, totalSponsors int) float64 {
	if totalSponsors <= 0 {
		return 0
	}

	tier := minTierCost
	if tier <= 0 {
		tier = median
	}
	if tier > median {
		tier = median
	}

	return tier * float64(totalSponsors)
}
