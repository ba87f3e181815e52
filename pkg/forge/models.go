package forge

import "time"

// Profile is a user or organization record as returned by the platform API
type Profile struct {
	ID              int64      `json:"id"`
	Login           string     `json:"login"`
	Name            string     `json:"name"`
	Type            string     `json:"type"` // "User" or "Organization"
	Bio             string     `json:"bio"`
	Location        string     `json:"location"`
	Company         string     `json:"company"`
	Email           string     `json:"email"`
	Blog            string     `json:"blog"`
	TwitterUsername string     `json:"twitter_username"`
	AvatarURL       string     `json:"avatar_url"`
	HTMLURL         string     `json:"html_url"`
	Hireable        bool       `json:"hireable"`
	Followers       int        `json:"followers"`
	Following       int        `json:"following"`
	PublicRepos     int        `json:"public_repos"`
	PublicGists     int        `json:"public_gists"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ProfileSummary is the abbreviated record returned by listing endpoints
type ProfileSummary struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// SponsorListing describes a user's sponsorship state. Private sponsors are
// counted upstream but never enumerated, so PrivateCount can exceed
// len(Sponsors) contributions.
type SponsorListing struct {
	Login        string           `json:"login"`
	TotalCount   int              `json:"total_count"`
	PrivateCount int              `json:"private_count"`
	// Cheapest published monthly tier in whole dollars, 0 when the user
	// publishes no tiers
	MinTierCost float64          `json:"min_tier_cost"`
	Sponsors    []ProfileSummary `json:"sponsors"`
	HasNext     bool             `json:"has_next"`
}

// SponsoringListing lists the accounts a user sponsors
type SponsoringListing struct {
	Login      string           `json:"login"`
	TotalCount int              `json:"total_count"`
	Sponsoring []ProfileSummary `json:"sponsoring"`
	HasNext    bool             `json:"has_next"`
}

// YearActivity is one calendar year of activity counts for a user.
// Contributions is the platform's combined total.
type YearActivity struct {
	Login         string `json:"login"`
	Year          int    `json:"year"`
	Commits       int    `json:"commits"`
	Issues        int    `json:"issues"`
	PullRequests  int    `json:"pull_requests"`
	Reviews       int    `json:"reviews"`
	Contributions int    `json:"contributions"`
}
