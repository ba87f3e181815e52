package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"sponsorscope/pkg/logger"
)

// Store is the SQLite-backed snapshot store. It owns the users, activity,
// sponsorship snapshot, gender cache and crawl cursor tables.
type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

// New opens or creates the store at path. Use ":memory:" for an ephemeral
// store in tests.
func New(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite permits one writer; a single connection also keeps an
	// in-memory database from being recreated per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, logger: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.InfoWithFields("store opened", map[string]interface{}{
		"path": path,
	})

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only query composition
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// migrate creates the schema. Statements are idempotent so opening an
// existing store is a no-op.
func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			login TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'User',
			bio TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			blog TEXT NOT NULL DEFAULT '',
			twitter_username TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			profile_url TEXT NOT NULL DEFAULT '',
			hireable INTEGER NOT NULL DEFAULT 0,
			pronouns TEXT NOT NULL DEFAULT '',
			has_pronouns INTEGER NOT NULL DEFAULT 0,
			gender TEXT NOT NULL DEFAULT 'Unknown',
			is_enriched INTEGER NOT NULL DEFAULT 0,
			followers INTEGER NOT NULL DEFAULT 0,
			following INTEGER NOT NULL DEFAULT 0,
			public_repos INTEGER NOT NULL DEFAULT 0,
			public_gists INTEGER NOT NULL DEFAULT 0,
			total_sponsors INTEGER NOT NULL DEFAULT 0,
			total_sponsoring INTEGER NOT NULL DEFAULT 0,
			private_sponsor_count INTEGER NOT NULL DEFAULT 0,
			min_sponsor_cost REAL NOT NULL DEFAULT 0,
			estimated_earnings REAL NOT NULL DEFAULT 0,
			rank INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP,
			last_scraped TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_login ON users(login)`,
		`CREATE INDEX IF NOT EXISTS idx_users_gender ON users(gender)`,
		`CREATE INDEX IF NOT EXISTS idx_users_location ON users(location)`,
		`CREATE INDEX IF NOT EXISTS idx_users_last_scraped ON users(last_scraped)`,
		`CREATE INDEX IF NOT EXISTS idx_users_earnings ON users(estimated_earnings DESC)`,

		`CREATE TABLE IF NOT EXISTS user_activity (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			year INTEGER NOT NULL,
			commits INTEGER NOT NULL DEFAULT 0,
			issues INTEGER NOT NULL DEFAULT 0,
			pull_requests INTEGER NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			contributions INTEGER NOT NULL DEFAULT 0,
			frozen INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, year)
		)`,

		`CREATE TABLE IF NOT EXISTS sponsorship_snapshots (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			interval TEXT NOT NULL,
			taken_at TIMESTAMP NOT NULL,
			sponsor_count INTEGER NOT NULL,
			PRIMARY KEY (user_id, interval, taken_at)
		)`,

		`CREATE TABLE IF NOT EXISTS gender_cache (
			signature TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS crawl_cursors (
			source TEXT NOT NULL,
			username TEXT NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			depth INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (source, username)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
