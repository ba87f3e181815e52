package store

import (
	"fmt"
	"time"
)

// Snapshot intervals
const (
	IntervalWeekly  = "W"
	IntervalMonthly = "M"
)

// YearActivity is one stored calendar year of activity counts. Contributions
// is the platform's combined total across the four categories.
type YearActivity struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	Year          int       `db:"year" json:"year"`
	Commits       int       `db:"commits" json:"commits"`
	Issues        int       `db:"issues" json:"issues"`
	PullRequests  int       `db:"pull_requests" json:"pull_requests"`
	Reviews       int       `db:"reviews" json:"reviews"`
	Contributions int       `db:"contributions" json:"contributions"`
	Frozen        bool      `db:"frozen" json:"frozen"`
	UpdatedAt     time.Time `db:"updated_at" json:"-"`
}

// UpsertYearActivity records a user's activity counts for a year. Frozen
// years are immutable and silently keep their stored values.
func (s *Store) UpsertYearActivity(a *YearActivity) error {
	const query = `
		INSERT INTO user_activity (
			user_id, year, commits, issues, pull_requests, reviews,
			contributions, frozen, updated_at
		) VALUES (
			:user_id, :year, :commits, :issues, :pull_requests, :reviews,
			:contributions, 0, :updated_at
		)
		ON CONFLICT(user_id, year) DO UPDATE SET
			commits = excluded.commits,
			issues = excluded.issues,
			pull_requests = excluded.pull_requests,
			reviews = excluded.reviews,
			contributions = excluded.contributions,
			updated_at = excluded.updated_at
		WHERE user_activity.frozen = 0`

	a.UpdatedAt = time.Now().UTC()
	if _, err := s.db.NamedExec(query, a); err != nil {
		return fmt.Errorf("failed to upsert activity for user %d year %d: %w", a.UserID, a.Year, err)
	}
	return nil
}

// FreezeYearsBefore marks all activity rows for years before the given year
// as immutable. Run once the calendar year has closed.
func (s *Store) FreezeYearsBefore(year int) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE user_activity SET frozen = 1 WHERE year < ? AND frozen = 0`, year,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to freeze activity years: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListYearActivity returns a user's yearly activity, newest year first
func (s *Store) ListYearActivity(userID int64) ([]YearActivity, error) {
	var activity []YearActivity
	err := s.db.Select(&activity,
		`SELECT * FROM user_activity WHERE user_id = ? ORDER BY year DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity for user %d: %w", userID, err)
	}
	return activity, nil
}

// SponsorshipSnapshot is one append-only observation of a user's sponsor count
type SponsorshipSnapshot struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	Interval     string    `db:"interval" json:"interval"`
	TakenAt      time.Time `db:"taken_at" json:"taken_at"`
	SponsorCount int       `db:"sponsor_count" json:"sponsor_count"`
}

// BucketStart normalizes a timestamp to its interval bucket: the preceding
// Monday 00:00 UTC for weekly, the first of the month for monthly.
func BucketStart(t time.Time, interval string) time.Time {
	t = t.UTC()
	switch interval {
	case IntervalMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	}
}

// AppendSponsorshipSnapshot records a sponsor count for the bucket containing
// takenAt. The history is append-only: a duplicate observation for the same
// bucket is a no-op and reports inserted=false.
func (s *Store) AppendSponsorshipSnapshot(userID int64, interval string, takenAt time.Time, sponsorCount int) (bool, error) {
	bucket := BucketStart(takenAt, interval)

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO sponsorship_snapshots (user_id, interval, taken_at, sponsor_count)
		 VALUES (?, ?, ?, ?)`,
		userID, interval, bucket, sponsorCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append snapshot for user %d: %w", userID, err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SponsorshipHistory returns a user's snapshots for one interval, oldest first
func (s *Store) SponsorshipHistory(userID int64, interval string) ([]SponsorshipSnapshot, error) {
	var snapshots []SponsorshipSnapshot
	err := s.db.Select(&snapshots,
		`SELECT * FROM sponsorship_snapshots
		 WHERE user_id = ? AND interval = ?
		 ORDER BY taken_at ASC`,
		userID, interval,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for user %d: %w", userID, err)
	}
	return snapshots, nil
}
