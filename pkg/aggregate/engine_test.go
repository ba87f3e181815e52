package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sponsorscope/pkg/config"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/store"
)

func TestMedianTierCost(t *testing.T) {
	tests := []struct {
		name  string
		costs []float64
		want  float64
	}{
		{"odd count", []float64{5, 10, 3}, 5},
		{"even count", []float64{4, 10}, 7},
		{"zeros excluded", []float64{0, 0, 8}, 8},
		{"all zero", []float64{0, 0}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := make([]store.EarningsInput, len(tt.costs))
			for i, c := range tt.costs {
				inputs[i] = store.EarningsInput{ID: int64(i + 1), MinSponsorCost: c}
			}
			assert.Equal(t, tt.want, MedianTierCost(inputs))
		})
	}
}

func TestEstimateEarnings(t *testing.T) {
	tests := []struct {
		name     string
		minCost  float64
		median   float64
		sponsors int
		want     float64
	}{
		{"tier below median", 3, 5, 10, 30},
		{"tier above median is capped", 50, 5, 10, 50},
		{"no published tier uses median", 0, 5, 10, 50},
		{"no sponsors", 3, 5, 0, 0},
		{"tier equals median", 5, 5, 4, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateEarnings(tt.minCost, tt.median, tt.sponsors))
		})
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *store.Store, id int64, login string, sponsors int, minCost float64) {
	t.Helper()

	require.NoError(t, s.UpsertUser(&store.User{
		ID:             id,
		Login:          login,
		Type:           "User",
		Gender:         "Unknown",
		Status:         store.StatusActive,
		TotalSponsors:  sponsors,
		MinSponsorCost: minCost,
		LastScraped:    time.Now().UTC(),
	}))
}

func TestEngineRun(t *testing.T) {
	s := newTestStore(t)

	// Median of positive costs {4, 10} is 7.
	seedUser(t, s, 1, "alice", 10, 4)  // 4*10 = 40
	seedUser(t, s, 2, "bob", 10, 10)   // capped at 7*10 = 70
	seedUser(t, s, 3, "carol", 10, 0)  // median 7*10 = 70
	seedUser(t, s, 4, "dave", 0, 4)    // no sponsors = 0

	engine := NewEngine(s, &config.EarningsConfig{FallbackTierCost: 5}, logger.NewNopLogger())

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.UsersUpdated)
	assert.Equal(t, 7.0, summary.MedianTier)

	alice, err := s.GetUserByLogin("alice")
	require.NoError(t, err)
	assert.Equal(t, 40.0, alice.EstimatedEarnings)

	bob, err := s.GetUserByLogin("bob")
	require.NoError(t, err)
	assert.Equal(t, 70.0, bob.EstimatedEarnings)

	carol, err := s.GetUserByLogin("carol")
	require.NoError(t, err)
	assert.Equal(t, 70.0, carol.EstimatedEarnings)

	dave, err := s.GetUserByLogin("dave")
	require.NoError(t, err)
	assert.Zero(t, dave.EstimatedEarnings)

	// Ranks: bob and carol tie at 70 and break by login.
	assert.Equal(t, 1, bob.Rank)
	assert.Equal(t, 2, carol.Rank)
	assert.Equal(t, 3, alice.Rank)
	assert.Equal(t, 4, dave.Rank)
}

func TestEngineRunFallbackWhenNoPublishedTiers(t *testing.T) {
	s := newTestStore(t)

	seedUser(t, s, 1, "alice", 6, 0)

	engine := NewEngine(s, &config.EarningsConfig{FallbackTierCost: 5}, logger.NewNopLogger())

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, summary.MedianTier)

	alice, err := s.GetUserByLogin("alice")
	require.NoError(t, err)
	assert.Equal(t, 30.0, alice.EstimatedEarnings)
}

func TestEngineRunEmptyCorpus(t *testing.T) {
	s := newTestStore(t)

	engine := NewEngine(s, &config.EarningsConfig{FallbackTierCost: 5}, logger.NewNopLogger())

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.UsersUpdated)
}
