package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Crawl cursor sources
const (
	SourceFollowers  = "followers"
	SourceSponsors   = "sponsors"
	SourceSponsoring = "sponsoring"
)

// Cursor records crawl progress through one user's paginated listing so an
// interrupted traversal resumes where it stopped instead of restarting.
type Cursor struct {
	Source    string    `db:"source"`
	Username  string    `db:"username"`
	Page      int       `db:"page"`
	Depth     int       `db:"depth"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SaveCursor persists crawl progress for one (source, username) listing
func (s *Store) SaveCursor(c *Cursor) error {
	const query = `
		INSERT INTO crawl_cursors (source, username, page, depth, updated_at)
		VALUES (:source, :username, :page, :depth, :updated_at)
		ON CONFLICT(source, username) DO UPDATE SET
			page = excluded.page,
			depth = excluded.depth,
			updated_at = excluded.updated_at`

	c.UpdatedAt = time.Now().UTC()
	if _, err := s.db.NamedExec(query, c); err != nil {
		return fmt.Errorf("failed to save cursor %s/%s: %w", c.Source, c.Username, err)
	}
	return nil
}

// LoadCursor fetches crawl progress, or nil when none is recorded
func (s *Store) LoadCursor(source, username string) (*Cursor, error) {
	var c Cursor
	err := s.db.Get(&c,
		`SELECT * FROM crawl_cursors WHERE source = ? AND username = ?`,
		source, username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor %s/%s: %w", source, username, err)
	}
	return &c, nil
}

// DeleteCursor removes a finished listing's cursor
func (s *Store) DeleteCursor(source, username string) error {
	if _, err := s.db.Exec(
		`DELETE FROM crawl_cursors WHERE source = ? AND username = ?`,
		source, username,
	); err != nil {
		return fmt.Errorf("failed to delete cursor %s/%s: %w", source, username, err)
	}
	return nil
}

// ListCursors returns every unfinished listing for a source
func (s *Store) ListCursors(source string) ([]Cursor, error) {
	var cursors []Cursor
	err := s.db.Select(&cursors,
		`SELECT * FROM crawl_cursors WHERE source = ? ORDER BY updated_at ASC`, source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors for %s: %w", source, err)
	}
	return cursors, nil
}
