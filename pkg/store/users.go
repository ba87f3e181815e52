package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// User statuses
const (
	StatusActive  = "active"
	StatusMissing = "missing"
)

// User is a stored account record
type User struct {
	ID                  int64     `db:"id" json:"id"`
	Login               string    `db:"login" json:"login"`
	Name                string    `db:"name" json:"name"`
	Type                string    `db:"type" json:"type"`
	Bio                 string    `db:"bio" json:"bio"`
	Location            string    `db:"location" json:"location"`
	Company             string    `db:"company" json:"company"`
	Email               string    `db:"email" json:"email"`
	Blog                string    `db:"blog" json:"blog"`
	TwitterUsername     string    `db:"twitter_username" json:"twitter_username"`
	AvatarURL           string    `db:"avatar_url" json:"avatar_url"`
	ProfileURL          string    `db:"profile_url" json:"profile_url"`
	Hireable            bool      `db:"hireable" json:"hireable"`
	Pronouns            string    `db:"pronouns" json:"pronouns"`
	HasPronouns         bool      `db:"has_pronouns" json:"has_pronouns"`
	Gender              string    `db:"gender" json:"gender"`
	IsEnriched          bool      `db:"is_enriched" json:"is_enriched"`
	Followers           int       `db:"followers" json:"followers"`
	Following           int       `db:"following" json:"following"`
	PublicRepos         int       `db:"public_repos" json:"public_repos"`
	PublicGists         int       `db:"public_gists" json:"public_gists"`
	TotalSponsors       int       `db:"total_sponsors" json:"total_sponsors"`
	TotalSponsoring     int       `db:"total_sponsoring" json:"total_sponsoring"`
	PrivateSponsorCount int       `db:"private_sponsor_count" json:"private_sponsor_count"`
	MinSponsorCost      float64   `db:"min_sponsor_cost" json:"min_sponsor_cost"`
	EstimatedEarnings   float64   `db:"estimated_earnings" json:"estimated_earnings"`
	Rank                int       `db:"rank" json:"rank"`
	Status              string    `db:"status" json:"status"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	LastScraped         time.Time `db:"last_scraped" json:"last_scraped"`
}

// ErrUserNotFound is returned when a lookup matches no stored user
var ErrUserNotFound = errors.New("user not found")

// UpsertUser inserts or refreshes a user record. A conflicting row is only
// overwritten when the incoming observation is at least as fresh, so replayed
// or reordered refreshes never regress a record.
func (s *Store) UpsertUser(u *User) error {
	if u.Status == "" {
		u.Status = StatusActive
	}

	const query = `
		INSERT INTO users (
			id, login, name, type, bio, location, company, email, blog,
			twitter_username, avatar_url, profile_url, hireable, pronouns,
			has_pronouns, gender, is_enriched, followers, following,
			public_repos, public_gists, total_sponsors, total_sponsoring,
			private_sponsor_count, min_sponsor_cost, status, created_at,
			last_scraped
		) VALUES (
			:id, :login, :name, :type, :bio, :location, :company, :email, :blog,
			:twitter_username, :avatar_url, :profile_url, :hireable, :pronouns,
			:has_pronouns, :gender, :is_enriched, :followers, :following,
			:public_repos, :public_gists, :total_sponsors, :total_sponsoring,
			:private_sponsor_count, :min_sponsor_cost, :status, :created_at,
			:last_scraped
		)
		ON CONFLICT(id) DO UPDATE SET
			login = excluded.login,
			name = excluded.name,
			type = excluded.type,
			bio = excluded.bio,
			location = excluded.location,
			company = excluded.company,
			email = excluded.email,
			blog = excluded.blog,
			twitter_username = excluded.twitter_username,
			avatar_url = excluded.avatar_url,
			profile_url = excluded.profile_url,
			hireable = excluded.hireable,
			pronouns = excluded.pronouns,
			has_pronouns = excluded.has_pronouns,
			gender = excluded.gender,
			is_enriched = excluded.is_enriched,
			followers = excluded.followers,
			following = excluded.following,
			public_repos = excluded.public_repos,
			public_gists = excluded.public_gists,
			total_sponsors = excluded.total_sponsors,
			total_sponsoring = excluded.total_sponsoring,
			private_sponsor_count = excluded.private_sponsor_count,
			min_sponsor_cost = excluded.min_sponsor_cost,
			status = excluded.status,
			created_at = excluded.created_at,
			last_scraped = excluded.last_scraped
		WHERE excluded.last_scraped >= users.last_scraped`

	if _, err := s.db.NamedExec(query, u); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.Login, err)
	}
	return nil
}

// GetUserByID fetches a user by platform ID
func (s *Store) GetUserByID(id int64) (*User, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

// GetUserByLogin fetches a user by login
func (s *Store) GetUserByLogin(login string) (*User, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE login = ?`, login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", login, err)
	}
	return &u, nil
}

// MarkMissing flags a user whose upstream profile no longer resolves.
// The record and its history are retained.
func (s *Store) MarkMissing(login string, observedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE users SET status = ?, last_scraped = ? WHERE login = ?`,
		StatusMissing, observedAt, login,
	)
	if err != nil {
		return fmt.Errorf("failed to mark user %s missing: %w", login, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListStale returns active users whose last refresh is older than the cutoff
func (s *Store) ListStale(cutoff time.Time, limit int) ([]User, error) {
	var users []User
	err := s.db.Select(&users,
		`SELECT * FROM users
		 WHERE status = ? AND last_scraped < ?
		 ORDER BY last_scraped ASC
		 LIMIT ?`,
		StatusActive, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale users: %w", err)
	}
	return users, nil
}

// SortField is one user-list ordering criterion
type SortField struct {
	Field string
	Desc  bool
}

// ListOptions filters and orders a user listing. Filter fields accept
// multiple values, matching any of them.
type ListOptions struct {
	Page     int
	PerPage  int
	Gender   []string
	Type     []string
	Location []string
	Sort     []SortField
}

// sortableColumns whitelists the user-list ordering criteria
var sortableColumns = map[string]bool{
	"login":              true,
	"followers":          true,
	"total_sponsors":     true,
	"total_sponsoring":   true,
	"min_sponsor_cost":   true,
	"estimated_earnings": true,
	"rank":               true,
	"created_at":         true,
	"last_scraped":       true,
}

// ListUsers returns one page of users matching the filters, plus the total
// match count before pagination
func (s *Store) ListUsers(opts ListOptions) ([]User, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 10
	}

	where := []string{"1=1"}
	args := []interface{}{}

	if len(opts.Gender) > 0 {
		where = append(where, "gender IN (?)")
		args = append(args, opts.Gender)
	}
	if len(opts.Type) > 0 {
		where = append(where, "type IN (?)")
		args = append(args, opts.Type)
	}
	if len(opts.Location) > 0 {
		where = append(where, "location IN (?)")
		args = append(args, opts.Location)
	}

	whereClause := strings.Join(where, " AND ")

	countQuery, countArgs, err := sqlx.In(
		"SELECT COUNT(*) FROM users WHERE "+whereClause, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build user count query: %w", err)
	}
	var total int
	if err := s.db.Get(&total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	orderBy := buildOrderBy(opts.Sort)

	query, listArgs, err := sqlx.In(
		fmt.Sprintf(
			"SELECT * FROM users WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
			whereClause, orderBy,
		),
		append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build user list query: %w", err)
	}

	var users []User
	if err := s.db.Select(&users, query, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	return users, total, nil
}

// buildOrderBy assembles the ORDER BY clause from whitelisted sort fields.
// The id tiebreak keeps pagination stable across equal sort keys.
func buildOrderBy(sorts []SortField) string {
	clauses := make([]string, 0, len(sorts)+1)
	for _, sf := range sorts {
		if !sortableColumns[sf.Field] {
			continue
		}
		dir := "ASC"
		if sf.Desc {
			dir = "DESC"
		}
		clauses = append(clauses, sf.Field+" "+dir)
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "estimated_earnings DESC")
	}
	clauses = append(clauses, "id ASC")
	return strings.Join(clauses, ", ")
}

// LocationCount is one entry of the location facet
type LocationCount struct {
	Location string `db:"location" json:"location"`
	Count    int    `db:"count" json:"count"`
}

// ListLocations returns the distinct non-empty locations with user counts,
// most populous first
func (s *Store) ListLocations() ([]LocationCount, error) {
	var locations []LocationCount
	err := s.db.Select(&locations,
		`SELECT location, COUNT(*) AS count
		 FROM users
		 WHERE location != ''
		 GROUP BY location
		 ORDER BY count DESC, location ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// GenderCount is one entry of the gender distribution
type GenderCount struct {
	Gender string `db:"gender" json:"gender"`
	Count  int    `db:"count" json:"count"`
}

// TopUser is the leader of one sponsorship dimension
type TopUser struct {
	Login string `db:"login" json:"login"`
	Count int    `db:"count" json:"count"`
}

// Stats summarises the stored corpus
type Stats struct {
	TotalUsers             int           `json:"total_users"`
	EnrichedUsers          int           `json:"enriched_users"`
	TotalSponsors          int           `json:"total_sponsors"`
	TotalEstimatedEarnings float64       `json:"total_estimated_earnings"`
	TopSponsored           *TopUser      `json:"top_sponsored,omitempty"`
	TopSponsoring          *TopUser      `json:"top_sponsoring,omitempty"`
	GenderDistribution     []GenderCount `json:"gender_distribution"`
}

// GetStats computes corpus-wide totals
func (s *Store) GetStats() (*Stats, error) {
	var stats Stats

	row := struct {
		Total    int     `db:"total"`
		Enriched int     `db:"enriched"`
		Sponsors int     `db:"sponsors"`
		Earnings float64 `db:"earnings"`
	}{}
	err := s.db.Get(&row,
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(is_enriched), 0) AS enriched,
			COALESCE(SUM(total_sponsors), 0) AS sponsors,
			COALESCE(SUM(estimated_earnings), 0) AS earnings
		 FROM users`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.TotalUsers = row.Total
	stats.EnrichedUsers = row.Enriched
	stats.TotalSponsors = row.Sponsors
	stats.TotalEstimatedEarnings = row.Earnings

	stats.TopSponsored, err = s.topUserBy("total_sponsors")
	if err != nil {
		return nil, err
	}
	stats.TopSponsoring, err = s.topUserBy("total_sponsoring")
	if err != nil {
		return nil, err
	}

	if err := s.db.Select(&stats.GenderDistribution,
		`SELECT gender, COUNT(*) AS count FROM users GROUP BY gender ORDER BY count DESC`,
	); err != nil {
		return nil, fmt.Errorf("failed to compute gender distribution: %w", err)
	}

	return &stats, nil
}

// topUserBy returns the active user leading the given counter column, or nil
// when the counter is zero everywhere. column must be a known column name.
func (s *Store) topUserBy(column string) (*TopUser, error) {
	var top TopUser
	query := fmt.Sprintf(
		`SELECT login, %s AS count FROM users
		 WHERE status = ? AND %s > 0
		 ORDER BY count DESC, login ASC LIMIT 1`,
		column, column,
	)
	err := s.db.Get(&top, query, StatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find top user by %s: %w", column, err)
	}
	return &top, nil
}

// EarningsInput is the per-user slice the aggregation engine reads
type EarningsInput struct {
	ID             int64   `db:"id"`
	Login          string  `db:"login"`
	TotalSponsors  int     `db:"total_sponsors"`
	MinSponsorCost float64 `db:"min_sponsor_cost"`
}

// ListEarningsInputs returns every active user's sponsorship figures
func (s *Store) ListEarningsInputs() ([]EarningsInput, error) {
	var inputs []EarningsInput
	err := s.db.Select(&inputs,
		`SELECT id, login, total_sponsors, min_sponsor_cost
		 FROM users WHERE status = ?`, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list earnings inputs: %w", err)
	}
	return inputs, nil
}

// UpdateEarnings writes a user's recomputed earnings estimate
func (s *Store) UpdateEarnings(userID int64, earnings float64) error {
	if _, err := s.db.Exec(
		`UPDATE users SET estimated_earnings = ? WHERE id = ?`,
		earnings, userID,
	); err != nil {
		return fmt.Errorf("failed to update earnings for user %d: %w", userID, err)
	}
	return nil
}

// MaterializeRanks recomputes the global leaderboard rank. Ties on earnings
// break by login so the ordering is deterministic.
func (s *Store) MaterializeRanks() error {
	const query = `
		UPDATE users SET rank = ranked.new_rank
		FROM (
			SELECT id, ROW_NUMBER() OVER (
				ORDER BY estimated_earnings DESC, login ASC
			) AS new_rank
			FROM users
			WHERE status = 'active'
		) AS ranked
		WHERE users.id = ranked.id`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to materialize ranks: %w", err)
	}
	return nil
}
