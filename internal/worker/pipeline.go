package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/forge"
	"sponsorscope/pkg/gender"
	"sponsorscope/pkg/harvester"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/store"
)

// ProfileFetcher is the platform API surface the pipeline needs.
// *forge.Client satisfies this.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, username string) (*forge.Profile, error)
	FetchSponsors(ctx context.Context, username string, page, perPage int) (*forge.SponsorListing, error)
	FetchSponsoring(ctx context.Context, username string, page, perPage int) (*forge.SponsoringListing, error)
	FetchYearActivity(ctx context.Context, username string, year int) (*forge.YearActivity, error)
}

// PronounFetcher is the session surface the pipeline needs.
// *harvester.Harvester satisfies this.
type PronounFetcher interface {
	FetchPronouns(ctx context.Context, username string) (string, error)
}

// GenderClassifier resolves profile evidence to a label.
// *gender.Classifier satisfies this.
type GenderClassifier interface {
	Classify(ctx context.Context, in gender.Input) (string, error)
}

// UserStore is the persistence surface the pipeline needs.
// *store.Store satisfies this.
type UserStore interface {
	UpsertUser(u *store.User) error
	MarkMissing(login string, observedAt time.Time) error
	UpsertYearActivity(a *store.YearActivity) error
	AppendSponsorshipSnapshot(userID int64, interval string, takenAt time.Time, sponsorCount int) (bool, error)
}

// Pipeline refreshes one user end to end: profile, pronouns, classification,
// sponsorship figures, then a single upsert. Steps run in that order because
// each feeds the next; a profile failure aborts the job, while enrichment
// failures degrade the record instead of losing it.
type Pipeline struct {
	forge      ProfileFetcher
	pronouns   PronounFetcher
	classifier GenderClassifier
	store      UserStore
	cfg        *config.Config
	logger     logger.Logger

	// Set after a session auth failure; pronoun harvesting stays off for
	// the rest of the cycle rather than hammering the login endpoint.
	harvestDown atomic.Bool
}

// NewPipeline wires a refresh pipeline. pronouns may be nil when no session
// credentials are configured.
func NewPipeline(
	forgeClient ProfileFetcher,
	pronouns PronounFetcher,
	classifier GenderClassifier,
	userStore UserStore,
	cfg *config.Config,
	log logger.Logger,
) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Pipeline{
		forge:      forgeClient,
		pronouns:   pronouns,
		classifier: classifier,
		store:      userStore,
		cfg:        cfg,
		logger:     log,
	}
}

// HarvestDegraded reports whether pronoun harvesting was disabled by a
// session auth failure during this cycle
func (p *Pipeline) HarvestDegraded() bool {
	return p.harvestDown.Load()
}

// ResetHarvest re-enables pronoun harvesting at the start of a new cycle
func (p *Pipeline) ResetHarvest() {
	p.harvestDown.Store(false)
}

// Refresh runs the full pipeline for one username
func (p *Pipeline) Refresh(ctx context.Context, username string) (*store.User, error) {
	now := time.Now().UTC()

	profile, err := p.forge.FetchProfile(ctx, username)
	if err != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeNotFound {
			// The profile is gone upstream; keep the record and its
			// history but stop refreshing it.
			if markErr := p.store.MarkMissing(username, now); markErr != nil &&
				!errors.Is(markErr, store.ErrUserNotFound) {
				return nil, markErr
			}
			p.logger.InfoWithFields("profile missing upstream", map[string]interface{}{
				"username": username,
			})
		}
		return nil, err
	}

	pronouns := p.fetchPronouns(ctx, profile)

	label := gender.Unknown
	if profile.Type == "User" {
		label, err = p.classifier.Classify(ctx, gender.Input{
			Login:    profile.Login,
			Name:     profile.Name,
			Pronouns: pronouns,
			Bio:      profile.Bio,
		})
		if err != nil {
			p.logger.WarnWithFields("classification error", map[string]interface{}{
				"username": username,
				"error":    err.Error(),
			})
			label = gender.Unknown
		}
	}

	listing, err := p.forge.FetchSponsors(ctx, username, 1, p.cfg.Crawl.PageSize)
	if err != nil {
		return nil, err
	}

	// The outbound count only needs the first page's total.
	totalSponsoring := 0
	if sponsoring, err := p.forge.FetchSponsoring(ctx, username, 1, p.cfg.Crawl.PageSize); err != nil {
		p.logger.WarnWithFields("sponsoring fetch failed", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
	} else {
		totalSponsoring = sponsoring.TotalCount
	}

	u := &store.User{
		ID:                  profile.ID,
		Login:               profile.Login,
		Name:                profile.Name,
		Type:                profile.Type,
		Bio:                 profile.Bio,
		Location:            profile.Location,
		Company:             profile.Company,
		Email:               profile.Email,
		Blog:                profile.Blog,
		TwitterUsername:     profile.TwitterUsername,
		AvatarURL:           profile.AvatarURL,
		ProfileURL:          profile.HTMLURL,
		Hireable:            profile.Hireable,
		Pronouns:            pronouns,
		HasPronouns:         pronouns != "",
		Gender:              label,
		IsEnriched:          profile.Type == "User",
		Followers:           profile.Followers,
		Following:           profile.Following,
		PublicRepos:         profile.PublicRepos,
		PublicGists:         profile.PublicGists,
		TotalSponsors:       listing.TotalCount,
		TotalSponsoring:     totalSponsoring,
		PrivateSponsorCount: listing.PrivateCount,
		MinSponsorCost:      listing.MinTierCost,
		Status:              store.StatusActive,
		CreatedAt:           profile.CreatedAt,
		LastScraped:         now,
	}

	if err := p.store.UpsertUser(u); err != nil {
		return nil, err
	}

	// Activity and snapshots are best effort: the user record is already
	// durable, so their failures only cost this cycle's data point.
	p.recordActivity(ctx, u, now)

	if _, err := p.store.AppendSponsorshipSnapshot(
		u.ID, p.cfg.Scheduler.SnapshotInterval, now, listing.TotalCount,
	); err != nil {
		p.logger.WarnWithFields("snapshot append failed", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
	}

	logger.LogUserRefresh(username, "complete", true, nil)
	return u, nil
}

// fetchPronouns harvests declared pronouns, degrading to empty on any
// failure. A session auth failure disables harvesting for the cycle.
func (p *Pipeline) fetchPronouns(ctx context.Context, profile *forge.Profile) string {
	if p.pronouns == nil || profile.Type != "User" || p.harvestDown.Load() {
		return ""
	}

	pronouns, err := p.pronouns.FetchPronouns(ctx, profile.Login)
	if err == nil {
		return pronouns
	}

	if errors.Is(err, harvester.ErrNoPronouns) {
		return ""
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeAuth {
		p.harvestDown.Store(true)
		p.logger.ErrorWithFields("session auth failed, pronoun harvesting disabled for this cycle", map[string]interface{}{
			"username": profile.Login,
			"error":    err.Error(),
		})
		return ""
	}

	p.logger.WarnWithFields("pronoun harvest failed", map[string]interface{}{
		"username": profile.Login,
		"error":    err.Error(),
	})
	return ""
}

// recordActivity refreshes the current calendar year's contribution count
func (p *Pipeline) recordActivity(ctx context.Context, u *store.User, now time.Time) {
	activity, err := p.forge.FetchYearActivity(ctx, u.Login, now.Year())
	if err != nil {
		p.logger.WarnWithFields("activity fetch failed", map[string]interface{}{
			"username": u.Login,
			"error":    err.Error(),
		})
		return
	}

	if err := p.store.UpsertYearActivity(&store.YearActivity{
		UserID:        u.ID,
		Year:          activity.Year,
		Commits:       activity.Commits,
		Issues:        activity.Issues,
		PullRequests:  activity.PullRequests,
		Reviews:       activity.Reviews,
		Contributions: activity.Contributions,
	}); err != nil {
		p.logger.WarnWithFields("activity upsert failed", map[string]interface{}{
			"username": u.Login,
			"error":    err.Error(),
		})
	}
}
