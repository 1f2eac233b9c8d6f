// Package preferences persists per-client display preferences.
package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"go.trai.ch/zerr"
)

// InMemory is the database name of a shared in-memory database.
const InMemory = "file::memory:?cache=shared"

type Theme string

const (
	ThemeUnset Theme = ""
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ErrInvalidTheme is returned when storing a theme other than light or dark.
var ErrInvalidTheme = zerr.New("invalid theme")

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Store keeps preferences in an SQLite database.
type Store struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// Open opens the store with the given filename as the db.
// If file name is empty, a shared in-memory db is opened.
func Open(filename string) (*Store, error) {
	if filename == "" {
		filename = InMemory
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			client TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (client, name)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s: %w", filename, err)
		}
	}
	return &Store{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Theme returns the theme stored for the client, or ThemeUnset.
func (s *Store) Theme(ctx context.Context, client string) (Theme, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE client = ? AND name = 'theme'", client,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ThemeUnset, nil
	}
	if err != nil {
		return ThemeUnset, err
	}
	return Theme(value), nil
}

// SetTheme stores the theme for the client.
func (s *Store) SetTheme(ctx context.Context, client string, theme Theme) error {
	if !theme.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO preferences (client, name, value) VALUES (?, 'theme', ?)",
		client, string(theme))
	return err
}

// Toggle flips the client's theme between light and dark and returns the new one.
// An unset theme toggles to dark.
func (s *Store) Toggle(ctx context.Context, client string) (Theme, error) {
	current, err := s.Theme(ctx, client)
	if err != nil {
		return ThemeUnset, err
	}
	next := ThemeDark
	if current == ThemeDark {
		next = ThemeLight
	}
	return next, s.SetTheme(ctx, client, next)
}

func (s *Store) Close() error {
	return s.db.Close()
}
