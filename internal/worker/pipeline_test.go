package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/forge"
	"sponsorscope/pkg/gender"
	"sponsorscope/pkg/harvester"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/store"
)

// fakeForge serves canned API responses
type fakeForge struct {
	profiles   map[string]*forge.Profile
	sponsors   map[string]*forge.SponsorListing
	sponsoring map[string]*forge.SponsoringListing
	activity   map[string]*forge.YearActivity
}

func (f *fakeForge) FetchProfile(ctx context.Context, username string) (*forge.Profile, error) {
	p, ok := f.profiles[username]
	if !ok {
		return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: 404}
	}
	return p, nil
}

func (f *fakeForge) FetchSponsors(ctx context.Context, username string, page, perPage int) (*forge.SponsorListing, error) {
	if l, ok := f.sponsors[username]; ok {
		return l, nil
	}
	return &forge.SponsorListing{Login: username}, nil
}

func (f *fakeForge) FetchSponsoring(ctx context.Context, username string, page, perPage int) (*forge.SponsoringListing, error) {
	if l, ok := f.sponsoring[username]; ok {
		return l, nil
	}
	return &forge.SponsoringListing{Login: username}, nil
}

func (f *fakeForge) FetchYearActivity(ctx context.Context, username string, year int) (*forge.YearActivity, error) {
	if a, ok := f.activity[username]; ok {
		return a, nil
	}
	return &forge.YearActivity{Login: username, Year: year}, nil
}

// fakePronouns serves canned pronouns and counts calls
type fakePronouns struct {
	pronouns map[string]string
	err      error
	calls    atomic.Int64
}

func (f *fakePronouns) FetchPronouns(ctx context.Context, username string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	p, ok := f.pronouns[username]
	if !ok || p == "" {
		return "", harvester.ErrNoPronouns
	}
	return p, nil
}

// fakeClassifier resolves through the pronoun mapping only
type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, in gender.Input) (string, error) {
	if label, ok := gender.PronounLabel(in.Pronouns); ok {
		return label, nil
	}
	return gender.Unknown, nil
}

func testPipeline(t *testing.T, ff *fakeForge, fp PronounFetcher) (*Pipeline, *store.Store) {
	t.Helper()

	s, err := store.New(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	return NewPipeline(ff, fp, fakeClassifier{}, s, cfg, logger.NewNopLogger()), s
}

func aliceProfile() *forge.Profile {
	return &forge.Profile{
		ID:          1,
		Login:       "alice",
		Name:        "Alice Example",
		Type:        "User",
		Bio:         "maintainer",
		Location:    "Berlin",
		AvatarURL:   "https://avatars.example.com/alice.png",
		HTMLURL:     "https://github.com/alice",
		Followers:   120,
		Following:   35,
		PublicRepos: 42,
		PublicGists: 7,
		CreatedAt:   time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRefreshFullPipeline(t *testing.T) {
	ff := &fakeForge{
		profiles: map[string]*forge.Profile{"alice": aliceProfile()},
		sponsors: map[string]*forge.SponsorListing{
			"alice": {Login: "alice", TotalCount: 7, PrivateCount: 2, MinTierCost: 5},
		},
		sponsoring: map[string]*forge.SponsoringListing{
			"alice": {Login: "alice", TotalCount: 3},
		},
		activity: map[string]*forge.YearActivity{
			"alice": {
				Login: "alice", Year: time.Now().UTC().Year(),
				Commits: 700, Issues: 80, PullRequests: 90, Reviews: 30, Contributions: 900,
			},
		},
	}
	fp := &fakePronouns{pronouns: map[string]string{"alice": "she/her"}}

	p, s := testPipeline(t, ff, fp)

	u, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "she/her", u.Pronouns)
	assert.True(t, u.HasPronouns)
	assert.Equal(t, gender.Female, u.Gender)
	assert.True(t, u.IsEnriched)
	assert.Equal(t, 7, u.TotalSponsors)
	assert.Equal(t, 3, u.TotalSponsoring)
	assert.Equal(t, 2, u.PrivateSponsorCount)
	assert.Equal(t, 5.0, u.MinSponsorCost)

	stored, err := s.GetUserByLogin("alice")
	require.NoError(t, err)
	assert.Equal(t, gender.Female, stored.Gender)
	assert.Equal(t, "https://avatars.example.com/alice.png", stored.AvatarURL)
	assert.Equal(t, 35, stored.Following)
	assert.Equal(t, 42, stored.PublicRepos)
	assert.Equal(t, 7, stored.PublicGists)

	activity, err := s.ListYearActivity(1)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, 700, activity[0].Commits)
	assert.Equal(t, 80, activity[0].Issues)
	assert.Equal(t, 90, activity[0].PullRequests)
	assert.Equal(t, 30, activity[0].Reviews)
	assert.Equal(t, 900, activity[0].Contributions)

	history, err := s.SponsorshipHistory(1, store.IntervalWeekly)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 7, history[0].SponsorCount)
}

func TestRefreshSecondCycleOnlyAdvancesTimestamp(t *testing.T) {
	ff := &fakeForge{
		profiles: map[string]*forge.Profile{"alice": aliceProfile()},
		sponsors: map[string]*forge.SponsorListing{
			"alice": {Login: "alice", TotalCount: 7, MinTierCost: 5},
		},
	}
	fp := &fakePronouns{pronouns: map[string]string{"alice": "she/her"}}
	p, s := testPipeline(t, ff, fp)

	first, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)

	second, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, second.LastScraped.Before(first.LastScraped))

	stored, err := s.GetUserByLogin("alice")
	require.NoError(t, err)
	assert.Equal(t, first.Gender, stored.Gender)
	assert.Equal(t, first.TotalSponsors, stored.TotalSponsors)
	assert.Equal(t, first.Pronouns, stored.Pronouns)
}

func TestRefreshMissingProfileMarksUser(t *testing.T) {
	ff := &fakeForge{profiles: map[string]*forge.Profile{"alice": aliceProfile()}}
	p, s := testPipeline(t, ff, &fakePronouns{})

	_, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)

	// Profile disappears upstream.
	delete(ff.profiles, "alice")

	_, err = p.Refresh(context.Background(), "alice")
	require.Error(t, err)

	stored, err := s.GetUserByLogin("alice")
	require.NoError(t, err)
	assert.Equal(t, store.StatusMissing, stored.Status)
}

func TestRefreshMissingUnknownUserStillErrors(t *testing.T) {
	ff := &fakeForge{profiles: map[string]*forge.Profile{}}
	p, _ := testPipeline(t, ff, &fakePronouns{})

	_, err := p.Refresh(context.Background(), "ghost")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNotFound, apiErr.Type)
}

func TestRefreshNoPronounsDeclared(t *testing.T) {
	ff := &fakeForge{profiles: map[string]*forge.Profile{"alice": aliceProfile()}}
	p, _ := testPipeline(t, ff, &fakePronouns{})

	u, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, u.Pronouns)
	assert.False(t, u.HasPronouns)
	assert.Equal(t, gender.Unknown, u.Gender)
}

func TestRefreshSessionAuthFailureDegradesHarvesting(t *testing.T) {
	profiles := map[string]*forge.Profile{"alice": aliceProfile()}
	bob := aliceProfile()
	bob.ID = 2
	bob.Login = "bob"
	profiles["bob"] = bob

	ff := &fakeForge{profiles: profiles}
	fp := &fakePronouns{err: &errs.Error{Type: errs.ErrorTypeAuth, Message: "session expired"}}

	p, _ := testPipeline(t, ff, fp)

	u, err := p.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, u.Pronouns)
	assert.True(t, p.HarvestDegraded())
	assert.Equal(t, int64(1), fp.calls.Load())

	// Subsequent refreshes skip the harvester entirely.
	_, err = p.Refresh(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fp.calls.Load())

	// A new cycle re-enables it.
	p.ResetHarvest()
	assert.False(t, p.HarvestDegraded())
}

func TestRefreshOrganizationSkipsEnrichment(t *testing.T) {
	org := aliceProfile()
	org.ID = 9
	org.Login = "acme"
	org.Type = "Organization"

	ff := &fakeForge{profiles: map[string]*forge.Profile{"acme": org}}
	fp := &fakePronouns{pronouns: map[string]string{"acme": "she/her"}}

	p, _ := testPipeline(t, ff, fp)

	u, err := p.Refresh(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, gender.Unknown, u.Gender)
	assert.False(t, u.IsEnriched)
	assert.Zero(t, fp.calls.Load())
}

func TestPoolProcessesJobs(t *testing.T) {
	profiles := map[string]*forge.Profile{}
	for i, login := range []string{"alice", "bob", "carol"} {
		pr := aliceProfile()
		pr.ID = int64(i + 1)
		pr.Login = login
		profiles[login] = pr
	}

	ff := &fakeForge{profiles: profiles}
	p, s := testPipeline(t, ff, &fakePronouns{})

	pool := NewPool(context.Background(), 2, p, logger.NewNopLogger())
	pool.Start()

	go func() {
		for _, login := range []string{"alice", "bob", "carol", "ghost"} {
			pool.Submit(RefreshJob{Username: login})
		}
		pool.Stop()
	}()

	var ok, failed int
	for result := range pool.Results() {
		if result.Success {
			ok++
		} else {
			failed++
			assert.Equal(t, "ghost", result.Job.Username)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failed)

	_, total, err := s.ListUsers(store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
