package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCachedGender looks up a classification by input signature. The second
// return reports whether the signature was cached.
func (s *Store) GetCachedGender(signature string) (string, bool, error) {
	var label string
	err := s.db.Get(&label,
		`SELECT label FROM gender_cache WHERE signature = ?`, signature,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read gender cache: %w", err)
	}
	return label, true, nil
}

// PutCachedGender stores a classification for an input signature. Cached
// labels are immutable so the same inputs always classify identically.
func (s *Store) PutCachedGender(signature, label string) error {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO gender_cache (signature, label, created_at)
		 VALUES (?, ?, ?)`,
		signature, label, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to write gender cache: %w", err)
	}
	return nil
}
